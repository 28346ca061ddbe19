/*
Package reliability implements the reliability test lifecycle for SMS gateway
clients: expiring stale tests, completing pending ones and scoring clients
from their test history.

Key Components:

  - Store / Tx: the persistence boundary, implemented by pkg/database
    (Postgres) and pkg/sqlstore (MySQL, SQLite)
  - Sweeper: marks pending tests older than the timeout as timedout
  - Handler: validates completion input and applies pending -> success
  - Scorer: computes a client's reliability percentage
  - EventAdapter: the protocol surface; only Update does anything

Completion Flow:

	adapter.Update(ctx, id, req)
	  -> handler.Complete(ctx, id, sent, received)
	       validate timestamps
	       sweep expired tests
	       transaction:
	         lock and fetch test
	         reject if success or timedout
	         set sent, received, routed; status = success
	         score client; write reliability
	  -> Result{Success, Message, Reason}

Scoring:

	total      = tests for msisdn
	successful = success tests with routed - received <= window
	score      = 0                                   if total < threshold
	           = round(100 * successful / total, 2)  otherwise

Defaults are a 10 minute timeout, a threshold of 5 tests and a 300 second
window.
*/
package reliability
