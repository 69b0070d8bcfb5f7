package migration

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"gopkg.in/yaml.v3"
)

var (
	// ErrInvalidChangeLog is returned for a malformed changelog.
	ErrInvalidChangeLog = errors.New("invalid changelog")
	// ErrChecksumMismatch is returned when an applied change set was edited.
	ErrChecksumMismatch = errors.New("applied change set was modified")
	// ErrUnknownTag is returned when the requested tag is not in the changelog.
	ErrUnknownTag = errors.New("tag not found in changelog")
)

// ChangeLog is an ordered list of change sets.
type ChangeLog struct {
	ChangeSets []ChangeSet `yaml:"changeSets"`
}

// ChangeSet is applied at most once, identified by ID.
type ChangeSet struct {
	ID      string   `yaml:"id"`
	Author  string   `yaml:"author"`
	Tag     string   `yaml:"tag,omitempty"`
	Changes []Change `yaml:"changes"`
}

// Change is one operation. Exactly one field is set.
type Change struct {
	CreateCollection string        `yaml:"createCollection,omitempty"`
	DropCollection   string        `yaml:"dropCollection,omitempty"`
	CreateIndex      *IndexChange  `yaml:"createIndex,omitempty"`
	Insert           *InsertChange `yaml:"insert,omitempty"`
}

// IndexChange creates an index. Keys are field names, "-" prefixed for
// descending order.
type IndexChange struct {
	Collection string   `yaml:"collection"`
	Name       string   `yaml:"name,omitempty"`
	Keys       []string `yaml:"keys"`
	Unique     bool     `yaml:"unique,omitempty"`
}

// InsertChange inserts documents.
type InsertChange struct {
	Collection string           `yaml:"collection"`
	Documents  []map[string]any `yaml:"documents"`
}

// LoadChangeLog reads and validates a changelog file.
func LoadChangeLog(path string) (*ChangeLog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read changelog: %w", err)
	}
	return ParseChangeLog(data)
}

// ParseChangeLog decodes and validates a YAML changelog.
func ParseChangeLog(data []byte) (*ChangeLog, error) {
	var cl ChangeLog
	if err := yaml.Unmarshal(data, &cl); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidChangeLog, err)
	}
	if err := cl.Validate(); err != nil {
		return nil, err
	}
	return &cl, nil
}

// Validate checks IDs are unique and every change names one operation.
func (cl *ChangeLog) Validate() error {
	seen := make(map[string]struct{}, len(cl.ChangeSets))
	for i, cs := range cl.ChangeSets {
		if cs.ID == "" {
			return fmt.Errorf("%w: change set %d has no id", ErrInvalidChangeLog, i)
		}
		if _, dup := seen[cs.ID]; dup {
			return fmt.Errorf("%w: duplicate change set id %q", ErrInvalidChangeLog, cs.ID)
		}
		seen[cs.ID] = struct{}{}
		for j, c := range cs.Changes {
			if err := c.validate(); err != nil {
				return fmt.Errorf("%w: change set %q change %d: %v", ErrInvalidChangeLog, cs.ID, j, err)
			}
		}
	}
	return nil
}

func (c Change) validate() error {
	n := 0
	if c.CreateCollection != "" {
		n++
	}
	if c.DropCollection != "" {
		n++
	}
	if c.CreateIndex != nil {
		n++
		if c.CreateIndex.Collection == "" || len(c.CreateIndex.Keys) == 0 {
			return errors.New("createIndex needs a collection and keys")
		}
	}
	if c.Insert != nil {
		n++
		if c.Insert.Collection == "" {
			return errors.New("insert needs a collection")
		}
	}
	if n != 1 {
		return fmt.Errorf("expected exactly one operation, got %d", n)
	}
	return nil
}

// Collections returns every collection the changelog touches, in first-use
// order.
func (cl *ChangeLog) Collections() []string {
	var out []string
	seen := make(map[string]struct{})
	add := func(name string) {
		if _, ok := seen[name]; ok || name == "" {
			return
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	for _, cs := range cl.ChangeSets {
		for _, c := range cs.Changes {
			add(c.CreateCollection)
			add(c.DropCollection)
			if c.CreateIndex != nil {
				add(c.CreateIndex.Collection)
			}
			if c.Insert != nil {
				add(c.Insert.Collection)
			}
		}
	}
	return out
}

// UpTo returns the change sets up to and including the one tagged tag. An
// empty tag selects all.
func (cl *ChangeLog) UpTo(tag string) ([]ChangeSet, error) {
	if tag == "" {
		return cl.ChangeSets, nil
	}
	for i, cs := range cl.ChangeSets {
		if cs.Tag == tag {
			return cl.ChangeSets[:i+1], nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownTag, tag)
}

// Pending filters out change sets already applied. applied maps IDs to the
// checksum recorded when they ran.
func Pending(sets []ChangeSet, applied map[string]string) ([]ChangeSet, error) {
	var out []ChangeSet
	for _, cs := range sets {
		sum, ok := applied[cs.ID]
		if !ok {
			out = append(out, cs)
			continue
		}
		if want := cs.Checksum(); sum != want {
			return nil, fmt.Errorf("%w: %q (recorded %s, now %s)", ErrChecksumMismatch, cs.ID, sum, want)
		}
	}
	return out, nil
}

// Checksum identifies the content of the change set's changes.
func (cs ChangeSet) Checksum() string {
	data, err := yaml.Marshal(cs.Changes)
	if err != nil {
		data = []byte(fmt.Sprint(cs.Changes))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// IndexKeys maps index key names onto an ordered bson document.
func IndexKeys(keys []string) bson.D {
	d := make(bson.D, 0, len(keys))
	for _, k := range keys {
		order := 1
		if strings.HasPrefix(k, "-") {
			k, order = k[1:], -1
		}
		d = append(d, bson.E{Key: k, Value: order})
	}
	return d
}
