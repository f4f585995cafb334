package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/zoharbabin/video-exploratorium/internal/transcript"
)

func newSegmentCommand() *cobra.Command {
	var maxChars, overlap int

	cmd := &cobra.Command{
		Use:   "segment <transcript.json>",
		Short: "Show how a transcript file is split into analysis segments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := readTranscriptFile(args[0])
			if err != nil {
				return err
			}
			if overlap >= maxChars {
				return fmt.Errorf("--overlap must be smaller than --max-chars")
			}

			segmenter := transcript.NewSegmenter(maxChars, overlap)
			fmt.Fprintln(cmd.OutOrStdout(), renderSegments(segmenter.Split(entries)))
			return nil
		},
	}
	cmd.Flags().IntVar(&maxChars, "max-chars", 150000, "target upper bound of a serialized segment")
	cmd.Flags().IntVar(&overlap, "overlap", 10000, "characters of context carried into the next segment")
	return cmd
}

// readTranscriptFile 支持 serveAsJson 的 {"objects": [...]} 格式和纯数组
func readTranscriptFile(path string) ([]transcript.Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var entries []transcript.Entry
		if err := json.Unmarshal(data, &entries); err != nil {
			return nil, fmt.Errorf("解析字幕文件失败: %w", err)
		}
		return entries, nil
	}

	var doc struct {
		Objects []transcript.Entry `json:"objects"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("解析字幕文件失败: %w", err)
	}
	return doc.Objects, nil
}

func renderSegments(segments []transcript.Segment) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"#", "Start (ms)", "End (ms)", "Lines", "Size"})
	for i, seg := range segments {
		tw.AppendRow(table.Row{i, seg.StartTime, seg.EndTime, len(seg.Lines), transcript.Size(seg)})
	}
	tw.AppendFooter(table.Row{"", "", "", "Total", len(segments)})
	return tw.Render()
}
