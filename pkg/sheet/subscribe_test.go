package sheet

import (
	"errors"
	"testing"

	"github.com/metricsheet/metricsheet/pkg/period"
)

func mustSubscribable(t *testing.T, cfg Config, initial []Write) *Subscribable {
	t.Helper()
	s, err := NewSubscribable(cfg, initial)
	if err != nil {
		t.Fatalf("NewSubscribable: unexpected error: %v", err)
	}
	return s
}

func mustSubscribe(t *testing.T, s *Subscribable, metric string, p period.Period, fn func()) func() {
	t.Helper()
	off, err := s.Subscribe(metric, p, fn)
	if err != nil {
		t.Fatalf("Subscribe(%s, %s): unexpected error: %v", metric, p, err)
	}
	return off
}

func TestSubscribe_FiresOnTargetChange(t *testing.T) {
	s := mustSubscribable(t, mrrConfig(), nil)
	jan := period.MonthOf(2023, 1)

	fired := 0
	mustSubscribe(t, s, "beginningMRR", jan, func() { fired++ })

	if _, err := s.Update([]Write{{Metric: "beginningMRR", Period: jan, Value: val("10")}}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if fired != 1 {
		t.Errorf("callback fired %d times, want 1", fired)
	}
}

func TestSubscribe_IgnoresOtherCells(t *testing.T) {
	s := mustSubscribable(t, mrrConfig(), nil)

	fired := 0
	mustSubscribe(t, s, "beginningMRR", period.MonthOf(2023, 2), func() { fired++ })

	// January changes beginningMRR/Jan, endingMRR/Jan, all four quarters,
	// and the year row. None of those is February.
	if _, err := s.Update([]Write{
		{Metric: "beginningMRR", Period: period.MonthOf(2023, 1), Value: val("10")},
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if fired != 0 {
		t.Errorf("callback for an untouched cell fired %d times, want 0", fired)
	}
}

func TestSubscribe_AggregateCell(t *testing.T) {
	// Observers can watch rollup cells; a base write that changes the
	// quarter fires them.
	s := mustSubscribable(t, mrrConfig(), nil)

	fired := 0
	mustSubscribe(t, s, "beginningMRR", period.QuarterOf(2023, 1), func() { fired++ })

	if _, err := s.Update([]Write{
		{Metric: "beginningMRR", Period: period.MonthOf(2023, 1), Value: val("10")},
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if fired != 1 {
		t.Errorf("quarter observer fired %d times, want 1", fired)
	}

	// A no-op rewrite leaves the quarter unchanged: no fire.
	if _, err := s.Update([]Write{
		{Metric: "beginningMRR", Period: period.MonthOf(2023, 1), Value: val("10")},
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if fired != 1 {
		t.Errorf("quarter observer fired %d times after no-op, want still 1", fired)
	}
}

func TestSubscribe_UnknownMetric(t *testing.T) {
	s := mustSubscribable(t, mrrConfig(), nil)
	_, err := s.Subscribe("nope", period.MonthOf(2023, 1), func() {})
	if !errors.Is(err, ErrUnknownMetric) {
		t.Fatalf("Subscribe: got %v, want ErrUnknownMetric", err)
	}
}

func TestUnsubscribe_RemovesOnlyThatCallback(t *testing.T) {
	s := mustSubscribable(t, mrrConfig(), nil)
	jan := period.MonthOf(2023, 1)

	firstFired, secondFired := 0, 0
	offFirst := mustSubscribe(t, s, "beginningMRR", jan, func() { firstFired++ })
	mustSubscribe(t, s, "beginningMRR", jan, func() { secondFired++ })

	offFirst()
	if _, err := s.Update([]Write{{Metric: "beginningMRR", Period: jan, Value: val("10")}}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if firstFired != 0 {
		t.Errorf("removed callback fired %d times, want 0", firstFired)
	}
	if secondFired != 1 {
		t.Errorf("remaining callback fired %d times, want 1", secondFired)
	}
}

func TestUnsubscribe_TwiceIsHarmless(t *testing.T) {
	s := mustSubscribable(t, mrrConfig(), nil)
	jan := period.MonthOf(2023, 1)

	off := mustSubscribe(t, s, "beginningMRR", jan, func() {})
	off()
	off()

	if _, err := s.Update([]Write{{Metric: "beginningMRR", Period: jan, Value: val("10")}}); err != nil {
		t.Fatalf("Update after double unsubscribe: %v", err)
	}
}

func TestSubscribe_DuringNotificationPass(t *testing.T) {
	// A callback that registers a new observer for the same cell must not
	// cause that observer to fire in the pass that is already running.
	s := mustSubscribable(t, mrrConfig(), nil)
	jan := period.MonthOf(2023, 1)

	lateFired := 0
	mustSubscribe(t, s, "beginningMRR", jan, func() {
		mustSubscribe(t, s, "beginningMRR", jan, func() { lateFired++ })
	})

	if _, err := s.Update([]Write{{Metric: "beginningMRR", Period: jan, Value: val("10")}}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if lateFired != 0 {
		t.Errorf("observer added mid-pass fired %d times in the same pass, want 0", lateFired)
	}

	// It participates from the next update on.
	if _, err := s.Update([]Write{{Metric: "beginningMRR", Period: jan, Value: val("11")}}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if lateFired != 1 {
		t.Errorf("observer added in prior pass fired %d times, want 1", lateFired)
	}
}

func TestUnsubscribe_DuringNotificationPass(t *testing.T) {
	// The callback set is snapshotted per cell before invoking, so one
	// callback unsubscribing another does not suppress it mid-pass.
	s := mustSubscribable(t, mrrConfig(), nil)
	jan := period.MonthOf(2023, 1)

	otherFired := 0
	var offOther func()
	mustSubscribe(t, s, "beginningMRR", jan, func() { offOther() })
	offOther = mustSubscribe(t, s, "beginningMRR", jan, func() { otherFired++ })

	if _, err := s.Update([]Write{{Metric: "beginningMRR", Period: jan, Value: val("10")}}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if otherFired != 1 {
		t.Errorf("snapshotted callback fired %d times, want 1", otherFired)
	}

	// From the next pass it is gone.
	if _, err := s.Update([]Write{{Metric: "beginningMRR", Period: jan, Value: val("11")}}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if otherFired != 1 {
		t.Errorf("unsubscribed callback fired again: %d total, want 1", otherFired)
	}
}

func TestSubscribe_ReentrantUpdate(t *testing.T) {
	// A callback may re-enter Update on the same table. One level deep is
	// enough to show it resolves instead of deadlocking or corrupting.
	s := mustSubscribable(t, mrrConfig(), nil)
	jan, feb := period.MonthOf(2023, 1), period.MonthOf(2023, 2)

	reentered := false
	mustSubscribe(t, s, "beginningMRR", jan, func() {
		if reentered {
			return
		}
		reentered = true
		if _, err := s.Update([]Write{{Metric: "beginningMRR", Period: feb, Value: val("5")}}); err != nil {
			t.Errorf("reentrant Update: %v", err)
		}
	})

	if _, err := s.Update([]Write{{Metric: "beginningMRR", Period: jan, Value: val("10")}}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if got := cellValue(t, s.Table, "beginningMRR", "2023-02"); !sameVal(got, "5") {
		t.Errorf("reentrant write lost: got %s, want 5", fmtVal(got))
	}
	if got := cellValue(t, s.Table, "beginningMRR", "2023"); !sameVal(got, "15") {
		t.Errorf("year after reentrant write: got %s, want 15", fmtVal(got))
	}
}

func TestClone_DropsSubscriptions(t *testing.T) {
	s := mustSubscribable(t, mrrConfig(), nil)
	jan := period.MonthOf(2023, 1)

	fired := 0
	mustSubscribe(t, s, "beginningMRR", jan, func() { fired++ })

	clone := s.Clone()
	if _, err := clone.Update([]Write{{Metric: "beginningMRR", Period: jan, Value: val("10")}}); err != nil {
		t.Fatalf("clone Update: %v", err)
	}
	if fired != 0 {
		t.Errorf("original's observer fired %d times from a clone update, want 0", fired)
	}
}
