package models

import "testing"

func TestEnvelopeValidate(t *testing.T) {
	tests := []struct {
		name    string
		env     Envelope
		wantErr bool
	}{
		{
			name:    "missing event",
			env:     Envelope{},
			wantErr: true,
		},
		{
			name:    "offer with routing",
			env:     Envelope{Event: EventOffer, Target: "b", Sender: "a"},
			wantErr: false,
		},
		{
			name:    "offer without target",
			env:     Envelope{Event: EventOffer, Sender: "a"},
			wantErr: true,
		},
		{
			name:    "candidate without sender",
			env:     Envelope{Event: EventICECandidate, Target: "b"},
			wantErr: true,
		},
		{
			name:    "direct message without target username",
			env:     Envelope{Event: EventDirectMessage, Sender: "a"},
			wantErr: true,
		},
		{
			name:    "call invite addressed by username",
			env:     Envelope{Event: EventCallInvite, Sender: "a", TargetUsername: "dana"},
			wantErr: false,
		},
		{
			name:    "letter without target username",
			env:     Envelope{Event: EventSendLetter, Sender: "a"},
			wantErr: true,
		},
		{
			name:    "room event needs no target",
			env:     Envelope{Event: EventJoinRoom, Room: "lounge"},
			wantErr: false,
		},
		{
			name:    "feature event passes through",
			env:     Envelope{Event: EventTyping, Room: "lounge", Sender: "a"},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.env.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestIsSignal(t *testing.T) {
	for _, event := range []EventType{EventOffer, EventAnswer, EventICECandidate} {
		if !event.IsSignal() {
			t.Errorf("%s.IsSignal() = false, want true", event)
		}
	}
	for _, event := range []EventType{EventLogin, EventJoinRoom, EventSendMessage, EventTyping} {
		if event.IsSignal() {
			t.Errorf("%s.IsSignal() = true, want false", event)
		}
	}
}
