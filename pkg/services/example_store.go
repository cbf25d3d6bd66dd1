package services

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/fleetsense/fleetsense-engine/pkg/models"
)

// ExampleStore manages the knowledge base of curated SQL examples and
// their embeddings. Examples live as .sql files in one directory; the
// embeddings side-store is a JSON file keyed by filename, so the SQL
// files stay hand-editable.
type ExampleStore interface {
	// Examples returns the current example snapshot.
	Examples() ([]*models.Example, error)

	// FindSimilar ranks examples by cosine similarity against the
	// question embedding and returns the top K with the highest score
	// observed. Without usable embeddings it falls back to the first K
	// examples and a zero score.
	FindSimilar(questionEmbedding []float32, topK int) ([]*models.Example, float64, error)

	// FindByKeyword returns examples whose title, description or SQL
	// contains the keyword, case-insensitive.
	FindByKeyword(keyword string) ([]*models.Example, error)

	// ExampleByFilename returns one example, or nil if absent.
	ExampleByFilename(filename string) (*models.Example, error)

	// SaveEmbeddings writes the current embeddings to the side-store.
	SaveEmbeddings() error

	// Refresh reloads example files and embeddings from disk.
	Refresh() ([]*models.Example, error)

	// Stats reports store health for the admin surface.
	Stats() (*ExampleStoreStats, error)
}

// ExampleStoreStats summarizes the knowledge base state.
type ExampleStoreStats struct {
	TotalExamples  int `json:"total_examples"`
	WithEmbeddings int `json:"with_embeddings"`
}

type exampleStore struct {
	directory      string
	embeddingsFile string
	logger         *zap.Logger
	snapshot       atomic.Pointer[[]*models.Example]
}

// NewExampleStore creates a store over directory with its embeddings
// side-store at embeddingsFile.
func NewExampleStore(directory, embeddingsFile string, logger *zap.Logger) ExampleStore {
	return &exampleStore{
		directory:      directory,
		embeddingsFile: embeddingsFile,
		logger:         logger.Named("example_store"),
	}
}

var _ ExampleStore = (*exampleStore)(nil)

func (s *exampleStore) Examples() ([]*models.Example, error) {
	if snap := s.snapshot.Load(); snap != nil {
		return *snap, nil
	}
	return s.Refresh()
}

func (s *exampleStore) Refresh() ([]*models.Example, error) {
	entries, err := os.ReadDir(s.directory)
	if err != nil {
		return nil, fmt.Errorf("failed to read knowledge base directory %s: %w", s.directory, err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	examples := make([]*models.Example, 0, len(files))
	for _, name := range files {
		content, err := os.ReadFile(filepath.Join(s.directory, name))
		if err != nil {
			s.logger.Warn("Failed to read example file", zap.String("file", name), zap.Error(err))
			continue
		}
		examples = append(examples, parseExampleFile(name, string(content)))
	}

	s.attachEmbeddings(examples)
	s.snapshot.Store(&examples)

	s.logger.Info("Loaded knowledge base examples", zap.Int("count", len(examples)))
	return examples, nil
}

// attachEmbeddings loads the side-store and matches vectors to examples
// by filename. A missing or corrupt side-store is not fatal; affected
// examples just have no embedding.
func (s *exampleStore) attachEmbeddings(examples []*models.Example) {
	data, err := os.ReadFile(s.embeddingsFile)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Info("No embeddings file found, skipping load")
		} else {
			s.logger.Warn("Failed to read embeddings file", zap.Error(err))
		}
		return
	}

	var records []embeddingRecord
	if err := json.Unmarshal(data, &records); err != nil {
		s.logger.Warn("Failed to parse embeddings file", zap.Error(err))
		return
	}

	byFilename := make(map[string][]float32, len(records))
	for _, rec := range records {
		byFilename[rec.Filename] = rec.Embedding
	}

	loaded := 0
	for _, ex := range examples {
		if emb, ok := byFilename[ex.Filename]; ok {
			ex.Embedding = emb
			loaded++
		}
	}

	s.logger.Info("Loaded embeddings",
		zap.Int("matched", loaded),
		zap.Int("examples", len(examples)),
	)
}

type embeddingRecord struct {
	Filename  string    `json:"filename"`
	Embedding []float32 `json:"embedding"`
}

func (s *exampleStore) SaveEmbeddings() error {
	examples, err := s.Examples()
	if err != nil {
		return err
	}

	records := make([]embeddingRecord, 0, len(examples))
	for _, ex := range examples {
		records = append(records, embeddingRecord{Filename: ex.Filename, Embedding: ex.Embedding})
	}

	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("failed to marshal embeddings: %w", err)
	}

	if err := os.WriteFile(s.embeddingsFile, data, 0o644); err != nil {
		return fmt.Errorf("failed to write embeddings file: %w", err)
	}

	s.logger.Info("Saved embeddings", zap.Int("count", len(records)), zap.String("file", s.embeddingsFile))
	return nil
}

func (s *exampleStore) FindSimilar(questionEmbedding []float32, topK int) ([]*models.Example, float64, error) {
	examples, err := s.Examples()
	if err != nil {
		return nil, 0, err
	}

	usable := questionEmbedding != nil
	if usable {
		for _, ex := range examples {
			if ex.Embedding == nil {
				usable = false
				break
			}
		}
	}

	if !usable {
		s.logger.Info("Embeddings not available, returning unranked examples", zap.Int("top_k", topK))
		if len(examples) > topK {
			examples = examples[:topK]
		}
		return examples, 0, nil
	}

	scored := make([]models.ScoredExample, 0, len(examples))
	for _, ex := range examples {
		scored = append(scored, models.ScoredExample{
			Example:    ex,
			Similarity: CosineSimilarity(questionEmbedding, ex.Embedding),
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Similarity > scored[j].Similarity
	})

	if len(scored) > topK {
		scored = scored[:topK]
	}

	top := make([]*models.Example, len(scored))
	for i, se := range scored {
		top[i] = se.Example
	}

	maxSimilarity := 0.0
	if len(scored) > 0 {
		maxSimilarity = scored[0].Similarity
	}

	s.logger.Info("Ranked knowledge base examples",
		zap.Int("returned", len(top)),
		zap.Float64("max_similarity", maxSimilarity),
	)

	return top, maxSimilarity, nil
}

func (s *exampleStore) FindByKeyword(keyword string) ([]*models.Example, error) {
	examples, err := s.Examples()
	if err != nil {
		return nil, err
	}

	keywordLower := strings.ToLower(keyword)
	var matching []*models.Example
	for _, ex := range examples {
		if strings.Contains(strings.ToLower(ex.Title), keywordLower) ||
			strings.Contains(strings.ToLower(ex.Description), keywordLower) ||
			strings.Contains(strings.ToLower(ex.SQL), keywordLower) {
			matching = append(matching, ex)
		}
	}

	return matching, nil
}

func (s *exampleStore) ExampleByFilename(filename string) (*models.Example, error) {
	examples, err := s.Examples()
	if err != nil {
		return nil, err
	}
	for _, ex := range examples {
		if ex.Filename == filename {
			return ex, nil
		}
	}
	return nil, nil
}

func (s *exampleStore) Stats() (*ExampleStoreStats, error) {
	examples, err := s.Examples()
	if err != nil {
		return nil, err
	}

	stats := &ExampleStoreStats{TotalExamples: len(examples)}
	for _, ex := range examples {
		if ex.Embedding != nil {
			stats.WithEmbeddings++
		}
	}
	return stats, nil
}

// CosineSimilarity computes dot(a,b) / (|a| * |b|). Zero-magnitude
// vectors score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}

	if magA == 0 || magB == 0 {
		return 0
	}

	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}

var descriptionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)--\s*Description:\s*(.+)`),
	regexp.MustCompile(`(?i)--\s*Question:\s*(.+)`),
	regexp.MustCompile(`(?is)/\*\s*Description:\s*(.+?)\*/`),
}

// parseExampleFile extracts title, description and SQL from one example
// file. The format is loose: an optional title line, optional
// "-- Description:" comments, then the SQL itself, possibly wrapped in
// markdown fences.
func parseExampleFile(filename, content string) *models.Example {
	lines := strings.Split(strings.TrimSpace(content), "\n")

	return &models.Example{
		Filename:    filename,
		Title:       extractTitle(lines, strings.TrimSuffix(filename, ".sql")),
		Description: extractDescription(content),
		SQL:         extractExampleSQL(content),
	}
}

func extractTitle(lines []string, filenameStem string) string {
	if len(lines) > 0 {
		first := strings.TrimSpace(lines[0])
		if first != "" && !strings.HasPrefix(strings.ToUpper(first), "SELECT") &&
			!strings.HasPrefix(first, "--") && !strings.HasPrefix(first, "```") {
			title := strings.TrimSpace(strings.ReplaceAll(first, "```", ""))
			if title != "" {
				return title
			}
		}
	}

	// Derive from filename: drivers_with_current_availability -> Drivers
	// With Current Availability.
	words := strings.Split(filenameStem, "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

func extractDescription(content string) string {
	for _, pattern := range descriptionPatterns {
		if m := pattern.FindStringSubmatch(content); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	return ""
}

var sqlFencePattern = regexp.MustCompile("(?i)```sql\\s*")

var sqlStatementPrefixes = []string{
	"SELECT", "WITH", "INSERT", "UPDATE", "DELETE", "CREATE", "ALTER", "DROP", "--",
}

func extractExampleSQL(content string) string {
	cleaned := sqlFencePattern.ReplaceAllString(content, "")
	cleaned = strings.ReplaceAll(cleaned, "```", "")

	lines := strings.Split(cleaned, "\n")
	for len(lines) > 0 && strings.TrimSpace(lines[0]) == "" {
		lines = lines[1:]
	}
	if len(lines) > 0 {
		first := strings.ToUpper(strings.TrimSpace(lines[0]))
		isSQL := false
		for _, prefix := range sqlStatementPrefixes {
			if strings.HasPrefix(first, prefix) {
				isSQL = true
				break
			}
		}
		if !isSQL {
			lines = lines[1:]
		}
	}

	cleaned = strings.TrimSpace(strings.Join(lines, "\n"))
	if cleaned != "" && !strings.HasSuffix(cleaned, ";") {
		cleaned += ";"
	}
	return cleaned
}
