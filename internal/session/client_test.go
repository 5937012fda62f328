package session

import (
	"testing"
	"time"

	"github.com/Imok282/glassmeet/internal/models"
)

func TestSendNeverBlocksOnFullQueue(t *testing.T) {
	c := &Client{
		outgoing: make(chan models.Envelope, 1),
		done:     make(chan struct{}),
	}
	c.Send(models.Envelope{Event: models.EventTyping})

	finished := make(chan struct{})
	go func() {
		c.Send(models.Envelope{Event: models.EventTyping})
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("Send blocked on a full queue")
	}
}

func TestSendAfterCloseIsNoop(t *testing.T) {
	c := &Client{
		outgoing: make(chan models.Envelope, 1),
		done:     make(chan struct{}),
	}
	c.Close()

	finished := make(chan struct{})
	go func() {
		c.Send(models.Envelope{Event: models.EventTyping})
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("Send blocked after Close")
	}
}
