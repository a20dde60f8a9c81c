// Package directory serves the hospital's read-only reference data: the
// doctor roster grouped by department, FAQ answers, and the Kiko persona
// phrase sets. Data is loaded from YAML, with a built-in default, and may be
// hot-reloaded from disk.
package directory

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"github.com/BTreeMap/Kiko/internal/models"
)

//go:embed default.yaml
var defaultYAML []byte

// Department keys referenced by the intent rules.
const (
	DepartmentGeneral    = "umum"
	DepartmentPsychiatry = "psikiater"
)

// FAQ topic keys.
const (
	TopicEmergency  = "igd"
	TopicInpatient  = "rawat_inap"
	TopicVisitHours = "jam_besuk"
)

// Persona phrase sets.
const (
	PhraseGreetings = "greetings"
	PhraseFarewell  = "farewell"
	PhraseJokes     = "jokes"
	PhraseEmpathy   = "empathy"
	PhraseFunFacts  = "fun_facts"
)

// ErrInvalidData is returned when a roster file fails validation.
var ErrInvalidData = errors.New("invalid directory data")

// Hospital identifies the facility.
type Hospital struct {
	Name    string `yaml:"name" json:"name"`
	Address string `yaml:"address" json:"address"`
}

// Department is an ordered group of doctors.
type Department struct {
	Key     string          `yaml:"key" json:"key"`
	Doctors []models.Doctor `yaml:"doctors" json:"doctors"`
}

// Persona holds the bot's name, mood emoji sets and canned phrases.
type Persona struct {
	Name      string              `yaml:"name" json:"name"`
	Moods     map[string][]string `yaml:"moods" json:"moods"`
	Responses map[string][]string `yaml:"responses" json:"responses"`
}

// Data is the full directory document.
type Data struct {
	Hospital    Hospital          `yaml:"hospital" json:"hospital"`
	Departments []Department      `yaml:"departments" json:"departments"`
	FAQ         map[string]string `yaml:"faq" json:"faq"`
	Persona     Persona           `yaml:"persona" json:"persona"`
}

// Parse decodes and validates a YAML directory document.
func Parse(b []byte) (*Data, error) {
	var d Data
	if err := yaml.Unmarshal(b, &d); err != nil {
		return nil, fmt.Errorf("failed to decode directory yaml: %w", err)
	}
	if err := d.validate(); err != nil {
		return nil, err
	}
	for i := range d.Departments {
		for j := range d.Departments[i].Doctors {
			d.Departments[i].Doctors[j].Department = d.Departments[i].Key
		}
	}
	return &d, nil
}

func (d *Data) validate() error {
	if len(d.Departments) == 0 {
		return fmt.Errorf("%w: no departments", ErrInvalidData)
	}
	seen := make(map[string]bool)
	for _, dep := range d.Departments {
		if dep.Key == "" {
			return fmt.Errorf("%w: department without key", ErrInvalidData)
		}
		if seen[dep.Key] {
			return fmt.Errorf("%w: duplicate department %q", ErrInvalidData, dep.Key)
		}
		seen[dep.Key] = true
		for _, doc := range dep.Doctors {
			if strings.TrimSpace(doc.Name) == "" || strings.TrimSpace(doc.Contact) == "" {
				return fmt.Errorf("%w: doctor in %q missing name or contact", ErrInvalidData, dep.Key)
			}
		}
	}
	return nil
}

// LoadFile reads and parses a directory document from path.
func LoadFile(path string) (*Data, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory file %s: %w", path, err)
	}
	return Parse(b)
}

// DefaultData returns the built-in directory.
func DefaultData() *Data {
	d, err := Parse(defaultYAML)
	if err != nil {
		panic(fmt.Sprintf("directory: built-in data is invalid: %v", err))
	}
	return d
}

// Directory is a concurrency-safe view over the current Data. Readers always
// see a complete snapshot; Replace swaps it atomically.
type Directory struct {
	data atomic.Pointer[Data]
}

// New creates a Directory over d, or over the built-in data when d is nil.
func New(d *Data) *Directory {
	if d == nil {
		d = DefaultData()
	}
	dir := &Directory{}
	dir.data.Store(d)
	return dir
}

// Replace swaps in new data.
func (d *Directory) Replace(data *Data) {
	if data != nil {
		d.data.Store(data)
	}
}

// Snapshot returns the current data. Callers must not mutate it.
func (d *Directory) Snapshot() *Data {
	return d.data.Load()
}

// Hospital returns the facility details.
func (d *Directory) Hospital() Hospital {
	return d.data.Load().Hospital
}

// Doctors returns every doctor in department order.
func (d *Directory) Doctors() []models.Doctor {
	var out []models.Doctor
	for _, dep := range d.data.Load().Departments {
		out = append(out, dep.Doctors...)
	}
	return out
}

// Department returns the doctors in the department with the given key.
func (d *Directory) Department(key string) []models.Doctor {
	for _, dep := range d.data.Load().Departments {
		if dep.Key == key {
			return append([]models.Doctor(nil), dep.Doctors...)
		}
	}
	return nil
}

// BySpecialty returns doctors whose specialty contains s.
func (d *Directory) BySpecialty(s string) []models.Doctor {
	var out []models.Doctor
	for _, doc := range d.Doctors() {
		if strings.Contains(doc.Specialty, s) {
			out = append(out, doc)
		}
	}
	return out
}

// FindDoctor resolves a free-text doctor name. A roster entry matches when
// either lowercased name contains the other; the first match in roster order
// wins.
func (d *Directory) FindDoctor(name string) (models.Doctor, bool) {
	q := strings.ToLower(strings.TrimSpace(name))
	if q == "" {
		return models.Doctor{}, false
	}
	for _, doc := range d.Doctors() {
		n := strings.ToLower(doc.Name)
		if strings.Contains(n, q) || strings.Contains(q, n) {
			return doc, true
		}
	}
	return models.Doctor{}, false
}

// FindDoctorByContact returns the doctor whose contact equals ref.
func (d *Directory) FindDoctorByContact(ref string) (models.Doctor, bool) {
	for _, doc := range d.Doctors() {
		if doc.Contact == ref {
			return doc, true
		}
	}
	return models.Doctor{}, false
}

// FAQ returns the canned answer for topic.
func (d *Directory) FAQ(topic string) (string, bool) {
	a, ok := d.data.Load().FAQ[topic]
	return a, ok
}

// Phrases returns the persona phrase set with the given name.
func (d *Directory) Phrases(set string) []string {
	return d.data.Load().Persona.Responses[set]
}

// MoodEmojis returns the emoji candidates for mood.
func (d *Directory) MoodEmojis(mood string) []string {
	return d.data.Load().Persona.Moods[mood]
}

// PsychiatryContact returns the first psychiatrist, used for crisis referrals.
func (d *Directory) PsychiatryContact() (models.Doctor, bool) {
	docs := d.Department(DepartmentPsychiatry)
	if len(docs) == 0 {
		return models.Doctor{}, false
	}
	return docs[0], true
}
