package email

import (
	"reflect"
	"testing"
)

func TestHiddenRecipients(t *testing.T) {
	t.Parallel()

	msg := &Email{
		To:  []string{"alice@example.com"},
		Cc:  []string{"Carol@Example.com"},
		Bcc: []string{"dave@example.com"},
		Envelope: Envelope{
			From: "sender@example.com",
			Recipients: []string{
				"alice@example.com",
				"carol@example.com",
				"dave@example.com",
				"erin@example.com",
				"ERIN@example.com",
			},
		},
	}

	got := msg.HiddenRecipients()
	want := []string{"erin@example.com"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("HiddenRecipients: got %v, want %v", got, want)
	}
}

func TestHiddenRecipients_NoEnvelope(t *testing.T) {
	t.Parallel()

	msg := &Email{To: []string{"alice@example.com"}}
	if got := msg.HiddenRecipients(); len(got) != 0 {
		t.Errorf("HiddenRecipients: got %v, want empty", got)
	}
}
