// Package store persists room chat and letters. It is an external
// collaborator from the relay's point of view: every call is best effort, and
// when redis is absent or failing the store degrades to a size-bounded
// in-memory buffer so the realtime path keeps working.
package store

import (
	"context"
	"encoding/json"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Imok282/glassmeet/internal/models"
)

const (
	historyLimit  = 50
	messageBuffer = 500
	letterBuffer  = 200
	recordTTL     = 30 * 24 * time.Hour
	opTimeout     = 2 * time.Second
)

// Store holds chat history and letters. rdb may be nil, in which case every
// operation uses the memory buffers directly.
type Store struct {
	rdb *redis.Client

	mu       sync.Mutex
	messages []models.ChatMessage
	letters  []models.Letter
}

func New(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

func (s *Store) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, opTimeout)
}

// AppendMessage records a chat message for its room.
func (s *Store) AppendMessage(ctx context.Context, msg models.ChatMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	if msg.ReadBy == nil {
		msg.ReadBy = []string{}
	}

	if s.rdb != nil {
		data, err := json.Marshal(msg)
		if err == nil {
			opCtx, cancel := s.opContext(ctx)
			defer cancel()
			key := "chat:" + msg.RoomID
			pipe := s.rdb.Pipeline()
			pipe.RPush(opCtx, key, data)
			pipe.LTrim(opCtx, key, -messageBuffer, -1)
			pipe.Expire(opCtx, key, recordTTL)
			if _, err := pipe.Exec(opCtx); err == nil {
				return
			} else {
				log.Printf("Chat save error, using memory fallback: %v", err)
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	if len(s.messages) > messageBuffer {
		s.messages = s.messages[len(s.messages)-messageBuffer:]
	}
}

// History returns the most recent messages for a room, oldest first.
func (s *Store) History(ctx context.Context, roomID string) []models.ChatMessage {
	if s.rdb != nil {
		opCtx, cancel := s.opContext(ctx)
		defer cancel()
		raw, err := s.rdb.LRange(opCtx, "chat:"+roomID, -historyLimit, -1).Result()
		if err == nil {
			history := make([]models.ChatMessage, 0, len(raw))
			for _, item := range raw {
				var msg models.ChatMessage
				if err := json.Unmarshal([]byte(item), &msg); err == nil {
					history = append(history, msg)
				}
			}
			return history
		}
		log.Printf("Chat fetch error, using memory fallback: %v", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var history []models.ChatMessage
	for _, msg := range s.messages {
		if msg.RoomID == roomID {
			history = append(history, msg)
		}
	}
	if len(history) > historyLimit {
		history = history[len(history)-historyLimit:]
	}
	return history
}

// MarkRead adds userID to a message's read set.
func (s *Store) MarkRead(ctx context.Context, roomID, messageID, userID string) {
	if s.rdb != nil && s.markReadRedis(ctx, roomID, messageID, userID) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages {
		if s.messages[i].ID == messageID {
			s.messages[i].ReadBy = appendUnique(s.messages[i].ReadBy, userID)
			return
		}
	}
}

func (s *Store) markReadRedis(ctx context.Context, roomID, messageID, userID string) bool {
	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	key := "chat:" + roomID
	raw, err := s.rdb.LRange(opCtx, key, 0, -1).Result()
	if err != nil {
		log.Printf("Read-receipt fetch error, using memory fallback: %v", err)
		return false
	}
	for i, item := range raw {
		var msg models.ChatMessage
		if err := json.Unmarshal([]byte(item), &msg); err != nil || msg.ID != messageID {
			continue
		}
		msg.ReadBy = appendUnique(msg.ReadBy, userID)
		data, err := json.Marshal(msg)
		if err != nil {
			return false
		}
		if err := s.rdb.LSet(opCtx, key, int64(i), data).Err(); err != nil {
			log.Printf("Read-receipt save error: %v", err)
			return false
		}
		return true
	}
	// Not found in redis; the message may predate the buffer. Nothing to do.
	return true
}

// AppendLetter records a letter, indexed for both sender and recipient so
// either side sees it in their box.
func (s *Store) AppendLetter(ctx context.Context, letter models.Letter) {
	if letter.Timestamp.IsZero() {
		letter.Timestamp = time.Now()
	}

	if s.rdb != nil {
		data, err := json.Marshal(letter)
		if err == nil {
			opCtx, cancel := s.opContext(ctx)
			defer cancel()
			pipe := s.rdb.Pipeline()
			pipe.Set(opCtx, "letter:"+letter.ID, data, recordTTL)
			pipe.RPush(opCtx, "letters:"+letter.ToUsername, letter.ID)
			if letter.FromUsername != letter.ToUsername {
				pipe.RPush(opCtx, "letters:"+letter.FromUsername, letter.ID)
			}
			pipe.Expire(opCtx, "letters:"+letter.ToUsername, recordTTL)
			pipe.Expire(opCtx, "letters:"+letter.FromUsername, recordTTL)
			if _, err := pipe.Exec(opCtx); err == nil {
				return
			} else {
				log.Printf("Letter save error, using memory fallback: %v", err)
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.letters = append(s.letters, letter)
	if len(s.letters) > letterBuffer {
		s.letters = s.letters[len(s.letters)-letterBuffer:]
	}
}

// LettersFor returns every letter sent to or by a username, newest first.
func (s *Store) LettersFor(ctx context.Context, username string) []models.Letter {
	if s.rdb != nil {
		if letters, ok := s.lettersForRedis(ctx, username); ok {
			return letters
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var letters []models.Letter
	for _, letter := range s.letters {
		if letter.ToUsername == username || letter.FromUsername == username {
			letters = append(letters, letter)
		}
	}
	sortLettersNewestFirst(letters)
	return letters
}

func (s *Store) lettersForRedis(ctx context.Context, username string) ([]models.Letter, bool) {
	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	ids, err := s.rdb.LRange(opCtx, "letters:"+username, 0, -1).Result()
	if err != nil {
		log.Printf("Letter fetch error, using memory fallback: %v", err)
		return nil, false
	}
	letters := make([]models.Letter, 0, len(ids))
	for _, id := range ids {
		raw, err := s.rdb.Get(opCtx, "letter:"+id).Result()
		if err != nil {
			continue // expired or lost; skip
		}
		var letter models.Letter
		if err := json.Unmarshal([]byte(raw), &letter); err == nil {
			letters = append(letters, letter)
		}
	}
	sortLettersNewestFirst(letters)
	return letters, true
}

// MarkLetterRead flips a letter's read flag.
func (s *Store) MarkLetterRead(ctx context.Context, letterID string) {
	if s.rdb != nil {
		opCtx, cancel := s.opContext(ctx)
		defer cancel()
		raw, err := s.rdb.Get(opCtx, "letter:"+letterID).Result()
		if err == nil {
			var letter models.Letter
			if err := json.Unmarshal([]byte(raw), &letter); err == nil {
				letter.IsRead = true
				if data, err := json.Marshal(letter); err == nil {
					if err := s.rdb.Set(opCtx, "letter:"+letterID, data, redis.KeepTTL).Err(); err == nil {
						return
					}
				}
			}
		} else if err != redis.Nil {
			log.Printf("Letter update error, using memory fallback: %v", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.letters {
		if s.letters[i].ID == letterID {
			s.letters[i].IsRead = true
			return
		}
	}
}

func appendUnique(list []string, value string) []string {
	for _, item := range list {
		if item == value {
			return list
		}
	}
	return append(list, value)
}

func sortLettersNewestFirst(letters []models.Letter) {
	sort.SliceStable(letters, func(i, j int) bool {
		return letters[i].Timestamp.After(letters[j].Timestamp)
	})
}
