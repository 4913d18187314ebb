// Package ecosystem decides whether a catalog record tagged with an
// ecosystem applies to a dependency from a given ecosystem.
package ecosystem

import (
	_ "embed"
	"fmt"
	"strings"

	"bitbucket.org/creachadair/stringset"
	"gopkg.in/yaml.v3"
)

// Dependency ecosystems understood by the alias table.
const (
	Java   = "java"
	DotNet = ".net"
	JS     = "js"
	Python = "python"
	Native = "native"
	PHP    = "php"
	NPM    = "npm"
	Ruby   = "ruby"
)

//go:embed aliases.yaml
var aliasData []byte

// Table maps catalog ecosystem tags onto dependency ecosystems.
type Table struct {
	owner        map[string]string // catalog tag -> dependency ecosystem
	incompatible stringset.Set
}

type tableFile struct {
	Aliases      map[string][]string `yaml:"aliases"`
	Incompatible []string            `yaml:"incompatible"`
}

// Default is the built-in table, loaded from aliases.yaml at init.
var Default = mustLoad(aliasData)

func mustLoad(data []byte) *Table {
	t, err := Load(data)
	if err != nil {
		panic(err)
	}
	return t
}

// Load parses an alias table. A tag listed under two ecosystems is an error.
func Load(data []byte) (*Table, error) {
	var f tableFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing ecosystem alias table: %w", err)
	}
	t := &Table{
		owner:        map[string]string{},
		incompatible: stringset.New(),
	}
	for eco, tags := range f.Aliases {
		eco = strings.ToLower(eco)
		for _, tag := range tags {
			tag = strings.ToLower(tag)
			if prev, ok := t.owner[tag]; ok && prev != eco {
				return nil, fmt.Errorf("ecosystem tag %q listed under both %q and %q", tag, prev, eco)
			}
			t.owner[tag] = eco
		}
	}
	for _, tag := range f.Incompatible {
		t.incompatible.Add(strings.ToLower(tag))
	}
	return t, nil
}

// Compatible reports whether a record tagged recordTag applies to a
// dependency from dependencyEcosystem. An untagged record, an unknown tag
// or a dependency without an ecosystem is always compatible.
func (t *Table) Compatible(dependencyEcosystem, recordTag string) bool {
	if recordTag == "" || dependencyEcosystem == "" {
		return true
	}
	tag := strings.ToLower(recordTag)
	if t.incompatible.Contains(tag) {
		return false
	}
	eco, ok := t.owner[tag]
	if !ok {
		return true
	}
	return eco == strings.ToLower(dependencyEcosystem)
}

// Compatible uses the Default table.
func Compatible(dependencyEcosystem, recordTag string) bool {
	return Default.Compatible(dependencyEcosystem, recordTag)
}
