package registry

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/samcharles93/mxfkit/pkg/klv"
	"github.com/samcharles93/mxfkit/pkg/mxf"
)

// Dictionary files extend the registry at startup. The format mirrors the
// descriptor model directly:
//
//	sets:
//	  - name: CameraMetadata
//	    ul: 060e2b34.02530101.0d010101.01017f00
//	    properties:
//	      - name: InstanceUID
//	        ul: 060e2b34.01010101.01011502.00000000
//	        kind: uuid
//	        tag: 0x3c0a
//	      - name: ShutterAngle
//	        ul: 060e2b34.01010102.04010b01.01000000
//	        kind: u32
//	      - name: Takes
//	        ul: 060e2b34.01010102.06010104.06110000
//	        kind: batch
//	        elem: strongref
type dictionaryFile struct {
	Sets []dictionarySet `yaml:"sets"`
}

type dictionarySet struct {
	Name       string               `yaml:"name"`
	UL         string               `yaml:"ul"`
	Properties []dictionaryProperty `yaml:"properties"`
}

type dictionaryProperty struct {
	Name string `yaml:"name"`
	UL   string `yaml:"ul"`
	Kind string `yaml:"kind"`
	Elem string `yaml:"elem"`
	Tag  uint16 `yaml:"tag"`
}

// LoadDictionary reads a YAML dictionary file and merges its sets on top
// of the registry's current contents.
func (r *Registry) LoadDictionary(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := r.MergeDictionary(data); err != nil {
		return fmt.Errorf("dictionary %s: %w", path, err)
	}
	return nil
}

// MergeDictionary parses dictionary YAML and registers every set in it.
func (r *Registry) MergeDictionary(data []byte) error {
	var dict dictionaryFile
	if err := yaml.Unmarshal(data, &dict); err != nil {
		return err
	}
	for _, set := range dict.Sets {
		td, err := set.descriptor()
		if err != nil {
			return err
		}
		r.Register(td)
	}
	return nil
}

func (s *dictionarySet) descriptor() (*mxf.TypeDescriptor, error) {
	if s.Name == "" {
		return nil, fmt.Errorf("set with no name")
	}
	key, err := klv.ParseUL(s.UL)
	if err != nil {
		return nil, fmt.Errorf("set %s: %w", s.Name, err)
	}
	td := &mxf.TypeDescriptor{Name: s.Name, Key: key}
	for _, p := range s.Properties {
		pk, err := klv.ParseUL(p.UL)
		if err != nil {
			return nil, fmt.Errorf("set %s property %s: %w", s.Name, p.Name, err)
		}
		kind, err := parseKind(p.Kind)
		if err != nil {
			return nil, fmt.Errorf("set %s property %s: %w", s.Name, p.Name, err)
		}
		pd := &mxf.PropertyDescriptor{Name: p.Name, Key: pk, Kind: kind, StaticTag: p.Tag}
		if kind == mxf.KindBatch {
			elem, err := parseKind(p.Elem)
			if err != nil {
				return nil, fmt.Errorf("set %s property %s: %w", s.Name, p.Name, err)
			}
			pd.ElemKind = elem
		}
		td.Properties = append(td.Properties, pd)
	}
	return td, nil
}

func parseKind(s string) (mxf.Kind, error) {
	switch s {
	case "raw", "":
		return mxf.KindRaw, nil
	case "u8":
		return mxf.KindUInt8, nil
	case "u16":
		return mxf.KindUInt16, nil
	case "u32":
		return mxf.KindUInt32, nil
	case "u64":
		return mxf.KindUInt64, nil
	case "iso7", "string":
		return mxf.KindISO7, nil
	case "utf16":
		return mxf.KindUTF16, nil
	case "ul":
		return mxf.KindUL, nil
	case "uuid":
		return mxf.KindUUID, nil
	case "timestamp":
		return mxf.KindTimestamp, nil
	case "rational":
		return mxf.KindRational, nil
	case "batch":
		return mxf.KindBatch, nil
	case "strongref":
		return mxf.KindStrongRef, nil
	case "weakref":
		return mxf.KindWeakRef, nil
	}
	return mxf.KindRaw, fmt.Errorf("unknown kind %q", s)
}
