package main

import (
	"context"
	"fmt"
	"os"

	json "github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/mxfkit/pkg/klv"
	"github.com/samcharles93/mxfkit/pkg/mxf"
)

func infoCmd() *cli.Command {
	return &cli.Command{
		Name:      "info",
		Usage:     "Print the partition table of an MXF file",
		ArgsUsage: "<file.mxf>",
		Flags:     sharedFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.NArg() < 1 {
				return fmt.Errorf("usage: mxf info <file.mxf>")
			}
			reg, log, err := setup()
			if err != nil {
				return err
			}
			f, err := mxf.Open(cmd.Args().First(), reg, log)
			if err != nil {
				return err
			}
			defer func() { _ = f.Close() }()

			if n := len(f.RunIn); n > 0 {
				fmt.Printf("run-in: %d bytes\n", n)
			}
			parts, err := f.Partitions()
			if err != nil {
				return err
			}
			for i, p := range parts {
				status := "open"
				if p.Pack.IsClosed() {
					status = "closed"
				}
				completeness := "incomplete"
				if p.Pack.IsComplete() {
					completeness = "complete"
				}
				fmt.Printf("partition %d: %-6s %s %s  offset=%d kag=%d header=%d index=%d bodySID=%d\n",
					i, p.Pack.Kind, status, completeness,
					p.Start(), p.Pack.KAGSize, p.Pack.HeaderByteCount, p.Pack.IndexByteCount, p.Pack.BodySID)
			}
			return nil
		},
	}
}

func dumpCmd() *cli.Command {
	return &cli.Command{
		Name:      "dump",
		Usage:     "Dump header metadata (and optionally index tables)",
		ArgsUsage: "<file.mxf>",
		Flags: append(sharedFlags(),
			&cli.BoolFlag{Name: "json", Usage: "Emit JSON instead of a tree"},
			&cli.BoolFlag{Name: "index", Usage: "Also dump index table segments"},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.NArg() < 1 {
				return fmt.Errorf("usage: mxf dump <file.mxf>")
			}
			reg, log, err := setup()
			if err != nil {
				return err
			}
			f, err := mxf.Open(cmd.Args().First(), reg, log)
			if err != nil {
				return err
			}
			defer func() { _ = f.Close() }()

			parts, err := f.Partitions()
			if err != nil {
				return err
			}
			var doc []map[string]any
			for i, p := range parts {
				if err := f.KLV().Seek(p.Start() + packSize(f.KLV(), p)); err != nil {
					return err
				}
				if err := p.ReadMetadata(f.KLV(), int64(p.Pack.HeaderByteCount)); err != nil {
					return fmt.Errorf("partition %d: %w", i, err)
				}
				segs, err := p.ReadIndexSegments(f.KLV(), int64(p.Pack.IndexByteCount))
				if err != nil {
					return fmt.Errorf("partition %d index: %w", i, err)
				}

				if cmd.Bool("json") {
					doc = append(doc, partitionDoc(p, segs, cmd.Bool("index")))
					continue
				}
				fmt.Printf("partition %d (%s)\n", i, p.Pack.Kind)
				for _, obj := range p.TopLevelMetadata {
					printObject(obj, 1)
				}
				if cmd.Bool("index") {
					for _, s := range segs {
						fmt.Printf("  index segment sid=%d start=%d duration=%d editrate=%s entries=%d\n",
							s.IndexSID, s.IndexStartPosition, s.IndexDuration, s.IndexEditRate, len(s.IndexEntries))
					}
				}
			}
			if cmd.Bool("json") {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(doc)
			}
			return nil
		},
	}
}

// packSize returns the byte size of the partition pack KLV so the dump can
// seek past it.
func packSize(f *klv.File, p *mxf.Partition) int64 {
	o := klv.NewObject(klv.UL{})
	if err := o.SetSource(f, p.Start()); err != nil {
		return 0
	}
	if _, err := o.ReadKL(); err != nil {
		return 0
	}
	return int64(o.KLSize()) + o.Length()
}

func printObject(obj *mxf.MDObject, depth int) {
	indent := ""
	for i := 0; i < depth; i++ {
		indent += "  "
	}
	fmt.Printf("%s%s\n", indent, obj.Name())
	for _, prop := range obj.Properties {
		name := prop.Key.String()
		if prop.Desc != nil {
			name = prop.Desc.Name
		}
		switch v := prop.Value.(type) {
		case *mxf.Ref:
			kind := "weak"
			if v.Strong {
				kind = "strong"
			}
			if v.Object != nil && v.Strong {
				fmt.Printf("%s  %s -> (%s)\n", indent, name, kind)
				printObject(v.Object, depth+2)
			} else {
				fmt.Printf("%s  %s -> %s (%s)\n", indent, name, v.Target, kind)
			}
		case []any:
			fmt.Printf("%s  %s: %d elements\n", indent, name, len(v))
			for _, e := range v {
				if r, ok := e.(*mxf.Ref); ok && r.Strong && r.Object != nil {
					printObject(r.Object, depth+2)
				}
			}
		case []byte:
			fmt.Printf("%s  %s: % x\n", indent, name, v)
		default:
			fmt.Printf("%s  %s: %v\n", indent, name, v)
		}
	}
}

func partitionDoc(p *mxf.Partition, segs []*mxf.IndexSegment, withIndex bool) map[string]any {
	doc := map[string]any{
		"kind":     p.Pack.Kind.String(),
		"closed":   p.Pack.IsClosed(),
		"complete": p.Pack.IsComplete(),
		"offset":   p.Start(),
		"kag":      p.Pack.KAGSize,
	}
	var tops []any
	for _, obj := range p.TopLevelMetadata {
		tops = append(tops, objectDoc(obj))
	}
	doc["metadata"] = tops
	if withIndex {
		var idx []any
		for _, s := range segs {
			idx = append(idx, map[string]any{
				"index_sid":            s.IndexSID,
				"body_sid":             s.BodySID,
				"start":                s.IndexStartPosition,
				"duration":             s.IndexDuration,
				"edit_rate":            s.IndexEditRate.String(),
				"edit_unit_byte_count": s.EditUnitByteCount,
				"entries":              len(s.IndexEntries),
			})
		}
		doc["index"] = idx
	}
	return doc
}

func objectDoc(obj *mxf.MDObject) map[string]any {
	doc := map[string]any{"type": obj.Name()}
	props := map[string]any{}
	for _, prop := range obj.Properties {
		name := prop.Key.String()
		if prop.Desc != nil {
			name = prop.Desc.Name
		}
		props[name] = valueDoc(prop.Value)
	}
	doc["properties"] = props
	return doc
}

func valueDoc(v any) any {
	switch t := v.(type) {
	case *mxf.Ref:
		if t.Strong && t.Object != nil {
			return objectDoc(t.Object)
		}
		return t.Target.String()
	case []any:
		out := make([]any, 0, len(t))
		for _, e := range t {
			out = append(out, valueDoc(e))
		}
		return out
	case []byte:
		return fmt.Sprintf("% x", t)
	case fmt.Stringer:
		return t.String()
	default:
		return t
	}
}
