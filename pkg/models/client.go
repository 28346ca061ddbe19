package models

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"
)

// Protocols is the set of protocol tags a gateway client supports.
// It is persisted as a comma-separated string.
type Protocols []string

func (p Protocols) Value() (driver.Value, error) {
	return strings.Join(p, ","), nil
}

func (p *Protocols) Scan(src interface{}) error {
	var s string
	switch v := src.(type) {
	case nil:
		*p = nil
		return nil
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return fmt.Errorf("cannot scan %T into Protocols", src)
	}

	*p = nil
	for _, tag := range strings.Split(s, ",") {
		tag = strings.TrimSpace(tag)
		if tag != "" {
			*p = append(*p, tag)
		}
	}
	return nil
}

type GatewayClient struct {
	bun.BaseModel `bun:"table:gateway_clients,alias:gc" gorm:"-"`

	MSISDN            string    `bun:"msisdn,pk" gorm:"column:msisdn;primaryKey;type:varchar(32)" json:"msisdn"`
	Country           string    `bun:",notnull" gorm:"not null" json:"country"`
	Operator          string    `bun:",notnull" gorm:"not null" json:"operator"`
	OperatorCode      string    `bun:",notnull" gorm:"not null" json:"operator_code"`
	Protocols         Protocols `bun:",type:varchar(255)" gorm:"type:varchar(255)" json:"protocols"`
	Reliability       float64   `bun:",type:numeric(5,2),notnull,default:0" gorm:"type:decimal(5,2);not null;default:0" json:"reliability"`
	LastPublishedDate time.Time `bun:",nullzero,notnull,default:current_timestamp" gorm:"not null" json:"last_published_date"`

	// Tests owns the reliability_tests foreign key for gorm migrations.
	Tests []ReliabilityTest `bun:"rel:has-many,join:msisdn=msisdn" gorm:"foreignKey:MSISDN;references:MSISDN;constraint:OnDelete:CASCADE" json:"-"`
}

func (GatewayClient) TableName() string { return "gateway_clients" }
