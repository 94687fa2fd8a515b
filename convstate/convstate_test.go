package convstate

import (
	"testing"
	"time"

	"github.com/tomasmach/personabridge/clock"
)

func TestActivationHasNoTTL(t *testing.T) {
	fc := clock.NewFixed(time.Unix(0, 0))
	s := New(Config{}, fc)

	s.Activate("c1", "p1", "u1")
	fc.Advance(24 * time.Hour)

	a, ok := s.GetActivation("c1")
	if !ok || a.PersonalityID != "p1" {
		t.Fatalf("GetActivation = %v, %v, want p1 surviving indefinitely", a, ok)
	}
}

func TestDeactivateClearsActivation(t *testing.T) {
	fc := clock.NewFixed(time.Unix(0, 0))
	s := New(Config{}, fc)

	s.Activate("c1", "p1", "u1")
	s.Deactivate("c1")

	if _, ok := s.GetActivation("c1"); ok {
		t.Error("GetActivation should report absent after Deactivate")
	}
}

func TestReplyBindingExpiresAfterTTL(t *testing.T) {
	fc := clock.NewFixed(time.Unix(0, 0))
	s := New(Config{ReplyBindingTTL: 30 * time.Minute}, fc)

	s.RecordReplyBinding("b1", ReplyBinding{ChannelID: "c1", UserID: "u1", PersonalityID: "p1"})

	if _, ok := s.LookupReplyBinding("b1"); !ok {
		t.Fatal("binding should resolve immediately after recording")
	}

	fc.Advance(31 * time.Minute)
	if _, ok := s.LookupReplyBinding("b1"); ok {
		t.Error("binding should expire after TTL")
	}
}

func TestReplyBindingToleratesRemovedPersonality(t *testing.T) {
	fc := clock.NewFixed(time.Unix(0, 0))
	s := New(Config{}, fc)

	s.RecordReplyBinding("b1", ReplyBinding{ChannelID: "c1", UserID: "u1", PersonalityID: "removed-personality"})

	binding, ok := s.LookupReplyBinding("b1")
	if !ok {
		t.Fatal("LookupReplyBinding should still return the binding record itself")
	}
	if binding.PersonalityID != "removed-personality" {
		t.Errorf("binding.PersonalityID = %q, want removed-personality (resolution of the personality id is the caller's problem)", binding.PersonalityID)
	}
}

func TestAutoRespondExpiresAfterConvTTL(t *testing.T) {
	fc := clock.NewFixed(time.Unix(0, 0))
	s := New(Config{AutoRespondTTL: 15 * time.Minute}, fc)

	s.TouchAutoRespond("c1", "u1", "p1")
	if got, ok := s.LookupAutoRespond("c1", "u1"); !ok || got.PersonalityID != "p1" {
		t.Fatalf("LookupAutoRespond = %v, %v, want p1", got, ok)
	}

	fc.Advance(16 * time.Minute)
	if _, ok := s.LookupAutoRespond("c1", "u1"); ok {
		t.Error("auto-respond entry should expire after CONV_TTL")
	}
}

func TestAutoRespondDisabledSuppressesRead(t *testing.T) {
	fc := clock.NewFixed(time.Unix(0, 0))
	s := New(Config{}, fc)

	s.TouchAutoRespond("c1", "u1", "p1")
	s.SetAutoRespondEnabled("u1", false)

	if _, ok := s.LookupAutoRespond("c1", "u1"); ok {
		t.Error("LookupAutoRespond should be suppressed once disabled for the user")
	}

	s.SetAutoRespondEnabled("u1", true)
	if _, ok := s.LookupAutoRespond("c1", "u1"); !ok {
		t.Error("LookupAutoRespond should resume once re-enabled, entry still unexpired")
	}
}

func TestIndexesAreIndependent(t *testing.T) {
	fc := clock.NewFixed(time.Unix(0, 0))
	s := New(Config{}, fc)

	s.Activate("c1", "p1", "u1")
	s.RecordReplyBinding("b1", ReplyBinding{ChannelID: "c1", UserID: "u1", PersonalityID: "p1"})
	s.TouchAutoRespond("c1", "u1", "p1")

	s.Deactivate("c1")

	if _, ok := s.LookupReplyBinding("b1"); !ok {
		t.Error("deactivating the channel should not clear its reply bindings")
	}
	if _, ok := s.LookupAutoRespond("c1", "u1"); !ok {
		t.Error("deactivating the channel should not clear its auto-respond index")
	}
}

func TestSweepRemovesExpiredEntriesOnly(t *testing.T) {
	fc := clock.NewFixed(time.Unix(0, 0))
	s := New(Config{ReplyBindingTTL: time.Minute, AutoRespondTTL: time.Minute}, fc)

	s.RecordReplyBinding("old", ReplyBinding{ChannelID: "c1"})
	fc.Advance(2 * time.Minute)
	s.RecordReplyBinding("fresh", ReplyBinding{ChannelID: "c1"})

	s.Sweep()

	if _, ok := s.LookupReplyBinding("old"); ok {
		t.Error("Sweep should remove the expired binding")
	}
	if _, ok := s.LookupReplyBinding("fresh"); !ok {
		t.Error("Sweep should not remove the still-fresh binding")
	}
}
