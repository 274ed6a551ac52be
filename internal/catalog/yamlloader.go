package catalog

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/kalam/internal/dialogue"
)

// File names looked up by [FSSource]. A missing file leaves its collection
// empty.
const (
	ScenariosFile  = "scenarios.yaml"
	FlashcardsFile = "flashcards.yaml"
	PhrasesFile    = "phrases.yaml"
	TipsFile       = "tips.yaml"
)

//go:embed data/*.yaml
var embedded embed.FS

type scenariosFile struct {
	Scenarios []dialogue.Scenario `yaml:"scenarios"`
}

type flashcardsFile struct {
	Categories []FlashcardCategory `yaml:"categories"`
}

type phrasesFile struct {
	Categories []PhraseCategory `yaml:"categories"`
}

type tipsFile struct {
	Tips []Tip `yaml:"tips"`
}

// FSSource reads catalog YAML files from a file system.
type FSSource struct {
	FS fs.FS
}

var _ Source = FSSource{}

// Embedded returns a source over the content compiled into the binary.
func Embedded() FSSource {
	sub, err := fs.Sub(embedded, "data")
	if err != nil {
		panic("catalog: embedded data missing: " + err.Error())
	}
	return FSSource{FS: sub}
}

// Dir returns a source reading from the directory at path.
func Dir(path string) FSSource {
	return FSSource{FS: os.DirFS(path)}
}

// Load implements [Source].
func (s FSSource) Load(_ context.Context) (Data, error) {
	var (
		d  Data
		sf scenariosFile
		ff flashcardsFile
		pf phrasesFile
		tf tipsFile
	)
	if err := decodeFile(s.FS, ScenariosFile, &sf); err != nil {
		return Data{}, err
	}
	if err := decodeFile(s.FS, FlashcardsFile, &ff); err != nil {
		return Data{}, err
	}
	if err := decodeFile(s.FS, PhrasesFile, &pf); err != nil {
		return Data{}, err
	}
	if err := decodeFile(s.FS, TipsFile, &tf); err != nil {
		return Data{}, err
	}
	d.Scenarios = sf.Scenarios
	d.Flashcards = ff.Categories
	d.Phrases = pf.Categories
	d.Tips = tf.Tips
	return d, nil
}

func decodeFile(fsys fs.FS, name string, v any) error {
	f, err := fsys.Open(name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("catalog: open %s: %w", name, err)
	}
	defer f.Close()

	if err := decodeYAML(f, v); err != nil {
		return fmt.Errorf("catalog: parse %s: %w", name, err)
	}
	return nil
}

func decodeYAML(r io.Reader, v any) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// LoadScenarios parses a scenarios YAML document.
func LoadScenarios(r io.Reader) ([]dialogue.Scenario, error) {
	var sf scenariosFile
	if err := decodeYAML(r, &sf); err != nil {
		return nil, fmt.Errorf("catalog: decode scenarios yaml: %w", err)
	}
	return sf.Scenarios, nil
}
