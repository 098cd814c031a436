package app

import (
	"time"

	logx "contestfeed/pkg/logx"

	"github.com/coreos/go-systemd/v22/daemon"
)

// sdNotifier reports service state to systemd. Outside a notify unit every
// call is a no-op.
type sdNotifier struct {
	log      logx.Logger
	watchdog time.Duration
}

func newSDNotifier(log logx.Logger) *sdNotifier {
	n := &sdNotifier{log: log}
	if d, err := daemon.SdWatchdogEnabled(false); err == nil {
		n.watchdog = d
	}
	return n
}

func (n *sdNotifier) send(state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		n.log.Debug("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent && state != daemon.SdNotifyWatchdog {
		n.log.Debug("sd_notify", logx.String("state", state))
	}
}

func (n *sdNotifier) Ready()    { n.send(daemon.SdNotifyReady) }
func (n *sdNotifier) Stopping() { n.send(daemon.SdNotifyStopping) }

// Watchdog pings only when the unit configured WatchdogSec.
func (n *sdNotifier) Watchdog() {
	if n.watchdog > 0 {
		n.send(daemon.SdNotifyWatchdog)
	}
}
