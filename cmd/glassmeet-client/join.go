package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/pion/webrtc/v4"
	"github.com/spf13/cobra"

	"github.com/Imok282/glassmeet/internal/models"
	"github.com/Imok282/glassmeet/internal/peer"
	"github.com/Imok282/glassmeet/internal/session"
)

var (
	serverURL   string
	roomID      string
	username    string
	stunServers []string
)

var joinCmd = &cobra.Command{
	Use:   "join",
	Short: "Join a room and answer incoming connections",
	Long: "Joins a room without local media (recvonly). Existing members will " +
		"initiate offers toward this client; remote audio/video is received and " +
		"discarded, and room activity is printed to stdout.",
	RunE: runJoin,
}

func init() {
	joinCmd.Flags().StringVarP(&serverURL, "server", "s", "ws://localhost:8080/ws", "relay WebSocket URL")
	joinCmd.Flags().StringVarP(&roomID, "room", "r", "", "room to join")
	joinCmd.Flags().StringVarP(&username, "username", "u", "", "durable username")
	joinCmd.Flags().StringSliceVar(&stunServers, "stun", []string{"stun:stun.l.google.com:19302"}, "STUN server URLs")
	joinCmd.MarkFlagRequired("room")
	joinCmd.MarkFlagRequired("username")
	rootCmd.AddCommand(joinCmd)
}

func runJoin(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := session.Dial(serverURL)
	if err != nil {
		return err
	}
	defer client.Close()

	controller := session.NewController(session.Config{
		Room:     roomID,
		Self:     models.Profile{Username: username},
		Signaler: client,
		Connect:  peer.NewPionFactory(stunServers),
		OnRemoteTrack: func(remoteID string, track *webrtc.TrackRemote) {
			fmt.Printf("receiving %s from %s\n", track.Kind(), remoteID)
			go drainTrack(track)
		},
		OnEvent: printEvent,
	})

	fmt.Printf("joining room %s as %s\n", roomID, username)
	if err := controller.Run(ctx); err != nil && err != context.Canceled {
		return err
	}
	fmt.Println("left room")
	return nil
}

// drainTrack keeps the remote track's RTP flowing; a headless client has
// nowhere to render it.
func drainTrack(track *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := track.Read(buf); err != nil {
			return
		}
	}
}

func printEvent(env models.Envelope) {
	switch env.Event {
	case models.EventPresenceSnapshot:
		var profiles []models.Profile
		if err := json.Unmarshal(env.Payload, &profiles); err == nil {
			fmt.Printf("online: %d user(s)\n", len(profiles))
		}

	case models.EventChatHistory:
		var history []models.ChatMessage
		if err := json.Unmarshal(env.Payload, &history); err == nil {
			for _, msg := range history {
				fmt.Printf("[history] %s: %s\n", msg.Username, msg.Content)
			}
		}

	case models.EventReceiveMessage:
		var msg models.ChatMessage
		if err := json.Unmarshal(env.Payload, &msg); err == nil {
			fmt.Printf("%s: %s\n", msg.Username, msg.Content)
		}

	case models.EventIncomingCall:
		var invite models.CallInvite
		if err := json.Unmarshal(env.Payload, &invite); err == nil {
			fmt.Printf("incoming call from %s (room %s)\n", invite.FromUser.Username, invite.RoomID)
		}

	case models.EventReceiveLetter:
		var letter models.Letter
		if err := json.Unmarshal(env.Payload, &letter); err == nil {
			fmt.Printf("letter from %s: %s\n", letter.FromUsername, letter.Subject)
		}

	case models.EventError:
		log.Printf("relay error: %s", env.Error)
	}
}
