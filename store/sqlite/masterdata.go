package sqlite

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// MASTER DATA SEED FILE
// =============================================================================

// MasterDataFile is the YAML seed for projects, cost codes and vendors:
//
//	projects:
//	  - id: P1
//	    name: Tower A
//	    codes:
//	      - id: C1
//	        name: Civil works
//	vendors:
//	  - id: V1
//	    name: Acme Builders
type MasterDataFile struct {
	Projects []ProjectRecord `yaml:"projects"`
	Vendors  []VendorRecord  `yaml:"vendors"`
}

type ProjectRecord struct {
	ID    string           `yaml:"id"`
	Name  string           `yaml:"name"`
	Codes []CostCodeRecord `yaml:"codes"`
}

type CostCodeRecord struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

type VendorRecord struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// LoadMasterData reads and validates a seed file.
func LoadMasterData(path string) (*MasterDataFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read master data: %w", err)
	}
	return ParseMasterData(data)
}

func ParseMasterData(data []byte) (*MasterDataFile, error) {
	var f MasterDataFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse master data: %w", err)
	}
	for _, p := range f.Projects {
		if p.ID == "" {
			return nil, fmt.Errorf("master data: project without id")
		}
		for _, c := range p.Codes {
			if c.ID == "" {
				return nil, fmt.Errorf("master data: project %s has a code without id", p.ID)
			}
		}
	}
	for _, v := range f.Vendors {
		if v.ID == "" {
			return nil, fmt.Errorf("master data: vendor without id")
		}
	}
	return &f, nil
}

// Seed upserts every record of the file. Existing records not in the file
// are left alone.
func (s *Store) Seed(ctx context.Context, f *MasterDataFile) error {
	for _, p := range f.Projects {
		if err := s.SaveProject(ctx, p); err != nil {
			return err
		}
	}
	for _, v := range f.Vendors {
		if err := s.SaveVendor(ctx, v); err != nil {
			return err
		}
	}
	return nil
}
