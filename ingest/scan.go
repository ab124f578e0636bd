package ingest

import (
	"context"

	"github.com/art-volia/tg-analyzer/heartbeat"
)

// ScanDirects enumerates personal dialogs and records an association between
// the operating account and each discovered peer. The platform's service
// account is skipped. Returns the count of peers recorded.
func (e *Engine) ScanDirects(ctx context.Context, accountID int64) (int, error) {
	dialogs, err := e.client.EnumerateDialogs(ctx, 0)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, dlg := range dialogs {
		if dlg.User == nil {
			continue
		}
		if dlg.User.UserID == ServiceNotificationsID {
			continue
		}
		if err := e.store.RecordDirectPeer(ctx, accountID, *dlg.User); err != nil {
			return count, err
		}
		count++
	}

	if count > 0 {
		e.log.Info("direct_peers_discovered", "count", count)
	}
	e.heart.Beat(heartbeat.Update{Action: heartbeat.ActionScanDirects, Mode: heartbeat.ModeScanDirects})
	return count, nil
}
