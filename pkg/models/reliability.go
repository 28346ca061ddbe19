package models

import (
	"time"

	"github.com/uptrace/bun"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusSuccess  Status = "success"
	StatusTimedOut Status = "timedout"
)

// Terminal reports whether no further transitions are allowed from s.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusTimedOut
}

type ReliabilityTest struct {
	bun.BaseModel `bun:"table:reliability_tests,alias:rt" gorm:"-"`

	ID              string     `bun:",pk,type:varchar(36)" gorm:"primaryKey;type:varchar(36)" json:"id"`
	StartTime       time.Time  `bun:",nullzero,notnull,default:current_timestamp" gorm:"not null;index" json:"start_time"`
	SMSSentTime     *time.Time `bun:"sms_sent_time" gorm:"column:sms_sent_time" json:"sms_sent_time,omitempty"`
	SMSReceivedTime *time.Time `bun:"sms_received_time" gorm:"column:sms_received_time" json:"sms_received_time,omitempty"`
	SMSRoutedTime   *time.Time `bun:"sms_routed_time" gorm:"column:sms_routed_time" json:"sms_routed_time,omitempty"`
	Status          Status     `bun:",notnull,default:'pending'" gorm:"type:varchar(16);not null;default:pending;index" json:"status"`
	MSISDN          string     `bun:"msisdn,notnull" gorm:"column:msisdn;type:varchar(32);not null;index" json:"msisdn"`

	Client *GatewayClient `bun:"rel:belongs-to,join:msisdn=msisdn" gorm:"-" json:"-"`
}

func (ReliabilityTest) TableName() string { return "reliability_tests" }

// RoutingLatency is the time between the gateway receiving the test SMS and
// routing it onward. It is zero until the test has succeeded.
func (t *ReliabilityTest) RoutingLatency() time.Duration {
	if t.SMSRoutedTime == nil || t.SMSReceivedTime == nil {
		return 0
	}
	return t.SMSRoutedTime.Sub(*t.SMSReceivedTime)
}
