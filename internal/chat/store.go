package chat

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ==================== Lesson ====================

// Lesson represents a teaching workspace with its own uploaded source
// documents and indexes.
type Lesson struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	CreatedAt    time.Time `json:"created_at"`
	FileCount    int       `json:"file_count"`
	ChunkCount   int       `json:"chunk_count"`
	SectionCount int       `json:"section_count"` // units detected across documents
	Status       string    `json:"status"`        // "upload", "processing", "ready"
}

// ==================== Chat ====================

// Chat represents a Q&A thread within a lesson.
type Chat struct {
	ID        string    `json:"id"`
	LessonID  string    `json:"lesson_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Message represents a single message in a chat thread.
type Message struct {
	Role      string                 `json:"role"` // "user" or "assistant"
	Content   string                 `json:"content"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"` // answer data for assistant messages
	Timestamp time.Time              `json:"timestamp"`
}

// ==================== LessonStore ====================

// LessonStore manages persistence of lessons, chat threads, and messages.
type LessonStore struct {
	mu       sync.RWMutex
	lessons  []Lesson
	dataDir  string // e.g. "data/lessons"
	filePath string // e.g. "data/lessons/lessons.json"
}

// NewLessonStore initialises the store, creating directories and loading any
// existing lessons.
func NewLessonStore(dataDir string) (*LessonStore, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	store := &LessonStore{
		dataDir:  dataDir,
		filePath: filepath.Join(dataDir, "lessons.json"),
	}

	if data, err := os.ReadFile(store.filePath); err == nil {
		_ = json.Unmarshal(data, &store.lessons)
	}

	return store, nil
}

func (s *LessonStore) save() error {
	data, err := json.MarshalIndent(s.lessons, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.filePath, data, 0644)
}

// ==================== Lesson CRUD ====================

func (s *LessonStore) Create(name string) (*Lesson, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := generateUUID()
	if name == "" {
		name = "Lesson " + id[:8]
	}

	lesson := Lesson{
		ID:        id,
		Name:      name,
		CreatedAt: time.Now(),
		Status:    "upload",
	}

	// Create per-lesson directories
	lessonDir := filepath.Join(s.dataDir, id)
	dirs := []string{
		filepath.Join(lessonDir, "uploads"),
		filepath.Join(lessonDir, "chats"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0755); err != nil {
			return nil, fmt.Errorf("failed to create lesson dir %s: %w", d, err)
		}
	}

	s.lessons = append(s.lessons, lesson)
	if err := s.save(); err != nil {
		return nil, err
	}

	return &lesson, nil
}

func (s *LessonStore) List() []Lesson {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Lesson, len(s.lessons))
	copy(result, s.lessons)
	return result
}

func (s *LessonStore) Get(id string) (*Lesson, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.lessons {
		if s.lessons[i].ID == id {
			l := s.lessons[i]
			return &l, nil
		}
	}
	return nil, fmt.Errorf("lesson not found: %s", id)
}

func (s *LessonStore) Update(lesson Lesson) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.lessons {
		if s.lessons[i].ID == lesson.ID {
			s.lessons[i] = lesson
			return s.save()
		}
	}
	return fmt.Errorf("lesson not found: %s", lesson.ID)
}

func (s *LessonStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	found := false
	var updated []Lesson
	for _, l := range s.lessons {
		if l.ID == id {
			found = true
			continue
		}
		updated = append(updated, l)
	}
	if !found {
		return fmt.Errorf("lesson not found: %s", id)
	}

	s.lessons = updated
	lessonDir := filepath.Join(s.dataDir, id)
	_ = os.RemoveAll(lessonDir)

	return s.save()
}

// ==================== Chat CRUD ====================

func (s *LessonStore) CreateChat(lessonID, name string) (*Chat, error) {
	// Verify lesson exists
	if _, err := s.Get(lessonID); err != nil {
		return nil, err
	}

	id := generateUUID()
	if name == "" {
		name = "Chat " + id[:8]
	}

	thread := Chat{
		ID:        id,
		LessonID:  lessonID,
		Name:      name,
		CreatedAt: time.Now(),
	}

	chatDir := filepath.Join(s.dataDir, lessonID, "chats")
	_ = os.MkdirAll(chatDir, 0755)

	metaPath := filepath.Join(chatDir, id+".meta.json")
	data, _ := json.MarshalIndent(thread, "", "  ")
	if err := os.WriteFile(metaPath, data, 0644); err != nil {
		return nil, fmt.Errorf("failed to save chat: %w", err)
	}

	// Create empty messages file
	msgsPath := filepath.Join(chatDir, id+".json")
	_ = os.WriteFile(msgsPath, []byte("[]"), 0644)

	return &thread, nil
}

func (s *LessonStore) ListChats(lessonID string) []Chat {
	chatDir := filepath.Join(s.dataDir, lessonID, "chats")
	entries, err := os.ReadDir(chatDir)
	if err != nil {
		return nil
	}

	var threads []Chat
	for _, entry := range entries {
		if filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		// Skip message files, only read .meta.json
		if filepath.Ext(entry.Name()[:len(entry.Name())-5]) != ".meta" {
			continue
		}

		data, err := os.ReadFile(filepath.Join(chatDir, entry.Name()))
		if err != nil {
			continue
		}
		var thread Chat
		if err := json.Unmarshal(data, &thread); err == nil {
			threads = append(threads, thread)
		}
	}
	return threads
}

func (s *LessonStore) GetChat(lessonID, chatID string) (*Chat, error) {
	metaPath := filepath.Join(s.dataDir, lessonID, "chats", chatID+".meta.json")
	data, err := os.ReadFile(metaPath)
	if err != nil {
		return nil, fmt.Errorf("chat not found: %s", chatID)
	}
	var thread Chat
	if err := json.Unmarshal(data, &thread); err != nil {
		return nil, err
	}
	return &thread, nil
}

func (s *LessonStore) UpdateChat(thread Chat) error {
	metaPath := filepath.Join(s.dataDir, thread.LessonID, "chats", thread.ID+".meta.json")
	data, _ := json.MarshalIndent(thread, "", "  ")
	return os.WriteFile(metaPath, data, 0644)
}

func (s *LessonStore) DeleteChat(lessonID, chatID string) error {
	chatDir := filepath.Join(s.dataDir, lessonID, "chats")
	_ = os.Remove(filepath.Join(chatDir, chatID+".meta.json"))
	_ = os.Remove(filepath.Join(chatDir, chatID+".json"))
	return nil
}

// ==================== Messages ====================

func (s *LessonStore) LoadMessages(lessonID, chatID string) ([]Message, error) {
	msgsPath := filepath.Join(s.dataDir, lessonID, "chats", chatID+".json")
	data, err := os.ReadFile(msgsPath)
	if err != nil {
		return nil, err
	}
	var msgs []Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (s *LessonStore) SaveMessage(lessonID, chatID string, msg Message) error {
	msgs, _ := s.LoadMessages(lessonID, chatID)
	msgs = append(msgs, msg)
	return s.saveMessages(lessonID, chatID, msgs)
}

func (s *LessonStore) saveMessages(lessonID, chatID string, msgs []Message) error {
	msgsPath := filepath.Join(s.dataDir, lessonID, "chats", chatID+".json")
	data, err := json.MarshalIndent(msgs, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(msgsPath, data, 0644)
}

// ==================== Path Helpers ====================

func (s *LessonStore) LessonDir(id string) string {
	return filepath.Join(s.dataDir, id)
}

func (s *LessonStore) UploadsDir(id string) string {
	return filepath.Join(s.dataDir, id, "uploads")
}

func (s *LessonStore) BM25Dir(id string) string {
	return filepath.Join(s.dataDir, id, "bm25.index")
}

func (s *LessonStore) VectorsPath(id string) string {
	return filepath.Join(s.dataDir, id, "vectors.json")
}

// ==================== UUID ====================

func generateUUID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	b[6] = (b[6] & 0x0f) | 0x40
	b[8] = (b[8] & 0x3f) | 0x80
	return fmt.Sprintf("%08x-%04x-%04x-%04x-%012x",
		b[0:4], b[4:6], b[6:8], b[8:10], b[10:16])
}
