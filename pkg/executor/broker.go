package executor

import (
	"context"

	"github.com/netpulse/netpulse/pkg/driver"
	"github.com/netpulse/netpulse/pkg/types"
)

// SessionBroker supplies the device session for one driver call and
// reclaims it afterwards. The reused flag feeds the session_reused
// telemetry.
type SessionBroker interface {
	Acquire(ctx context.Context, drv driver.Driver, args types.ConnectionArgs) (driver.Session, bool, error)

	// Release hands the session back after the call. failed reports
	// whether the call itself errored, letting caching brokers drop a
	// session that may be wedged.
	Release(drv driver.Driver, sess driver.Session, failed bool)
}

func (e Env) broker() SessionBroker {
	if e.Broker != nil {
		return e.Broker
	}
	return ephemeralBroker{}
}

// ephemeralBroker opens a fresh session per job and always closes it.
// This is the FIFO worker's mode; stateless drivers make Connect cheap.
type ephemeralBroker struct{}

func (ephemeralBroker) Acquire(ctx context.Context, drv driver.Driver, _ types.ConnectionArgs) (driver.Session, bool, error) {
	sess, err := drv.Connect(ctx)
	if err != nil {
		return nil, false, err
	}
	return sess, false, nil
}

func (ephemeralBroker) Release(drv driver.Driver, sess driver.Session, _ bool) {
	_ = drv.Disconnect(sess, false)
}
