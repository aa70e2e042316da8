package exporter

import (
	"bytes"
	"fmt"
	"io"
	"text/tabwriter"

	"ndnrepo/pkg/core"
)

// PrintStructure 解析并打印结构化对象 (Manifest/Data)
// 无法识别时返回 false，由调用者决定如何展示
func PrintStructure(data []byte, w io.Writer) (bool, error) {
	// 1. Manifest 是 JSON 文本
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '{' {
		m, _, err := core.DecodeManifest(data)
		if err != nil {
			return false, nil
		}
		return true, PrintManifest(m, w)
	}

	// 2. 数据包是 CBOR
	d, err := core.DecodeData(data)
	if err != nil {
		return false, nil
	}
	return true, PrintData(d, w)
}

func PrintManifest(m *core.Manifest, w io.Writer) error {
	fmt.Fprintf(w, "Type:     Manifest\n")
	fmt.Fprintf(w, "Name:     %s\n", m.Name())
	fmt.Fprintf(w, "Hash:     %s\n", m.Key())
	fmt.Fprintf(w, "Segments: %s\n", fmtRange(m.StartBlockID, m.EndBlockID))
	if m.IsSinglePacket() {
		fmt.Fprintf(w, "Holder:   %s\n", m.Holder)
	}
	if len(m.Shards) == 0 {
		return nil
	}

	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintf(tw, "SHARD\tSTART\tEND\tSEGMENTS\n")
	for _, s := range m.Shards {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\n", s.Name, s.Start, s.End, s.End-s.Start+1)
	}
	return tw.Flush()
}

func PrintData(d *core.Data, w io.Writer) error {
	fmt.Fprintf(w, "Type:  Data\n")
	fmt.Fprintf(w, "Name:  %s\n", d.Name())
	fmt.Fprintf(w, "Size:  %s\n", fmtSize(int64(len(d.Content))))
	if d.FinalBlockID != nil {
		fmt.Fprintf(w, "Final: %d\n", *d.FinalBlockID)
	}
	return nil
}

func fmtRange(start, end *uint64) string {
	switch {
	case start == nil:
		return "-"
	case end == nil:
		return fmt.Sprintf("%d-?", *start)
	default:
		return fmt.Sprintf("%d-%d", *start, *end)
	}
}

func fmtSize(s int64) string {
	if s < 1024 {
		return fmt.Sprintf("%dB", s)
	} else if s < 1024*1024 {
		return fmt.Sprintf("%.1fKB", float64(s)/1024)
	}
	return fmt.Sprintf("%.2fMB", float64(s)/1024/1024)
}
