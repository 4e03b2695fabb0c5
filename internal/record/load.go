package record

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
	"gopkg.in/yaml.v3"
)

// documentTypeFile is the YAML form of a document type definition
type documentTypeFile struct {
	Name            string   `yaml:"name"`
	IdentityField   string   `yaml:"identity_field"`
	Structured      bool     `yaml:"structured"`
	Instruction     string   `yaml:"instruction"`
	InstructionFile string   `yaml:"instruction_file"`
	Fields          []string `yaml:"fields"`
}

// ReadFile reads a text file, dropping a UTF-8 or UTF-16 byte order mark.
// Fixtures authored on Windows commonly carry one.
func ReadFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	r := transform.NewReader(f, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return data, nil
}

// DecodeText drops a byte order mark from data, converting UTF-16 to UTF-8
func DecodeText(data []byte) ([]byte, error) {
	out, _, err := transform.Bytes(unicode.BOMOverride(unicode.UTF8.NewDecoder()), data)
	if err != nil {
		return nil, fmt.Errorf("decoding text: %w", err)
	}
	return out, nil
}

// LoadKeys reads an ExpectedKeys.json list of field names
func LoadKeys(path string) ([]string, error) {
	data, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	var keys []string
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, fmt.Errorf("unmarshaling keys from %s: %w", path, err)
	}
	return keys, nil
}

// LoadDocumentType reads a YAML document type definition. A relative
// instruction_file is resolved against the definition's directory.
func LoadDocumentType(path string) (*Schema, error) {
	data, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	var def documentTypeFile
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("unmarshaling document type %s: %w", path, err)
	}

	name := def.Name
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	s, err := NewSchema(name, def.IdentityField, def.Fields)
	if err != nil {
		return nil, fmt.Errorf("document type %s: %w", path, err)
	}
	s.Structured = def.Structured
	s.Instruction = strings.TrimSpace(def.Instruction)

	if def.InstructionFile != "" {
		instructionPath := def.InstructionFile
		if !filepath.IsAbs(instructionPath) {
			instructionPath = filepath.Join(filepath.Dir(path), instructionPath)
		}
		text, err := ReadFile(instructionPath)
		if err != nil {
			return nil, fmt.Errorf("document type %s: %w", path, err)
		}
		s.Instruction = strings.TrimSpace(string(text))
	}
	if s.Instruction == "" {
		s.Instruction = engineeringInstruction
	}
	return s, nil
}

// Resolve picks the active schema: a YAML document type when docTypePath is
// set, otherwise the built-in type, with its fields replaced by an
// ExpectedKeys.json list when keysPath is set.
func Resolve(docTypePath, keysPath string) (*Schema, error) {
	s := EngineeringDocument()
	if docTypePath != "" {
		loaded, err := LoadDocumentType(docTypePath)
		if err != nil {
			return nil, err
		}
		s = loaded
	}
	if keysPath != "" {
		keys, err := LoadKeys(keysPath)
		if err != nil {
			return nil, err
		}
		withKeys, err := NewSchema(s.Name, s.IdentityField, keys)
		if err != nil {
			return nil, fmt.Errorf("keys %s: %w", keysPath, err)
		}
		withKeys.Structured = s.Structured
		withKeys.Instruction = s.Instruction
		s = withKeys
	}
	return s, nil
}
