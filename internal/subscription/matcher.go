// Copyright 2025 Mech Services, Inc.
package subscription

import (
	"reflect"

	"github.com/dundas/mech-queue/internal/events"
)

// Matches evaluates a subscription's filters against an event. Pure over the
// typed values so it can be tested without any store or delivery machinery.
func Matches(sub *Subscription, ev events.Event) bool {
	if !sub.Active {
		return false
	}
	if sub.ApplicationID != ev.ApplicationID {
		return false
	}
	if !containsStatus(sub.Events, ev.Status) {
		return false
	}
	if len(sub.Filters.Queues) > 0 && !containsString(sub.Filters.Queues, ev.Queue) {
		return false
	}
	if len(sub.Filters.Statuses) > 0 && !containsString(sub.Filters.Statuses, string(ev.Status)) {
		return false
	}
	for k, want := range sub.Filters.Metadata {
		got, ok := ev.Metadata[k]
		if !ok {
			return false
		}
		if !scalarEqual(want, got) {
			return false
		}
	}
	return true
}

func containsStatus(list []events.Status, s events.Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// scalarEqual compares filter values against event metadata. JSON decoding
// yields float64 for every number, so numeric comparison goes through
// float64; everything else falls back to deep equality.
func scalarEqual(a, b interface{}) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
