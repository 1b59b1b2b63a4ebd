package models

import "testing"

func TestSameAs(t *testing.T) {
	t.Run("Recordings", func(t *testing.T) {
		a := &Recording{ID: 7, Name: "local-a"}
		b := &Recording{ID: 7, Name: "local-b", Props: map[string]any{"duration": 40}}

		if !a.SameAs(b) {
			t.Error("recordings with the same id are the same entity, local fields aside")
		}
		if a.SameAs(&Recording{ID: 8}) {
			t.Error("different ids must not compare equal")
		}
		if (&Recording{}).SameAs(&Recording{}) {
			t.Error("unuploaded recordings have no identity to share")
		}
		var nilRec *Recording
		if nilRec.SameAs(a) || a.SameAs(nilRec) {
			t.Error("nil never names an entity")
		}
	})

	t.Run("Tracks", func(t *testing.T) {
		a := &Track{ID: 3, RecordingID: 7}
		b := &Track{ID: 3, RecordingID: 7, Data: map[string]any{"start_s": 1}}

		if !a.SameAs(b) {
			t.Error("tracks with the same id are the same entity")
		}
		if a.SameAs(&Track{ID: 4, RecordingID: 7}) {
			t.Error("different ids must not compare equal")
		}
		if (&Track{}).SameAs(&Track{}) {
			t.Error("zero ids carry no identity")
		}
	})
}
