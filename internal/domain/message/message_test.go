package message

import (
	"testing"
	"time"
)

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2024-05-01T09:00:00Z", time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)},
		{"2024-05-01T09:00:00.250Z", time.Date(2024, 5, 1, 9, 0, 0, 250_000_000, time.UTC)},
		{"2024-05-01T11:00:00+02:00", time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)},
		{"2024-05-01T09:00:00", time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTimestamp(tt.in)
			if err != nil {
				t.Fatalf("ParseTimestamp: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseTimestampInvalid(t *testing.T) {
	if _, err := ParseTimestamp("yesterday"); err == nil {
		t.Fatal("expected error")
	}
}

func TestSortByCreated(t *testing.T) {
	msgs := []Message{
		{ID: "c", CreatedDateTime: "2024-05-01T09:00:10Z"},
		{ID: "a", CreatedDateTime: "2024-05-01T09:00:00Z"},
		{ID: "b", CreatedDateTime: "2024-05-01T11:00:05+02:00"},
	}
	SortByCreated(msgs)
	got := msgs[0].ID + msgs[1].ID + msgs[2].ID
	if got != "abc" {
		t.Errorf("order = %s, want abc", got)
	}
}

func TestSender(t *testing.T) {
	m := Message{}
	if m.Sender() != "" {
		t.Errorf("expected empty sender")
	}
	m.From = &From{User: &User{DisplayName: "Priya"}}
	if m.Sender() != "Priya" {
		t.Errorf("sender = %q", m.Sender())
	}
}
