package coalesce

import "parkguard/internal/model"

// StopLedger is the part of the dwell ledger the reconciler works on.
type StopLedger interface {
	ColorStop(track int) []model.SectorTime
	ClearColorStop(track int)
	RecordAlarm(track, count int)
	SeenAlarm(track, count int) bool
}

type Marker interface {
	MarkRelocated(track int, sector model.Sector)
}

// Reconciler turns alarm counts on a track's color stop map into relocation
// events. One Reconciler belongs to one task.
type Reconciler struct {
	ledger StopLedger
	marker Marker
}

func NewReconciler(ledger StopLedger, marker Marker) *Reconciler {
	return &Reconciler{ledger: ledger, marker: marker}
}

// Reconcile counts alarm events on the track's color stop map. A non-zero
// count not yet recorded for the track is recorded, the color stop map is
// cleared and the sector is marked relocated. It reports whether that
// happened; the caller then resets its stop total to zero.
func (r *Reconciler) Reconcile(track int, sector model.Sector, threshold float64) (int, bool) {
	count := FindAlarmEvents(r.ledger.ColorStop(track), threshold)
	if count == 0 || r.ledger.SeenAlarm(track, count) {
		return count, false
	}
	r.ledger.RecordAlarm(track, count)
	r.ledger.ClearColorStop(track)
	if r.marker != nil {
		r.marker.MarkRelocated(track, sector)
	}
	return count, true
}
