package transcript

import (
	"cmp"
	"encoding/json"
	"iter"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	DefaultMaxChars = 150000
	DefaultOverlap  = 10000
)

// 序列化后片段的固定开销：{"startTime":S,"endTime":E,"lines":[...]}
const (
	headStartTime = len(`{"startTime":`)
	headEndTime   = len(`,"endTime":`)
	headLines     = len(`,"lines":[`)
	tailClose     = len(`]}`)
)

// Segmenter 将字幕切分为有界且相互重叠的片段
type Segmenter struct {
	maxChars int
	overlap  int
}

func NewSegmenter(maxChars, overlap int) *Segmenter {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	if overlap < 0 {
		overlap = 0
	}
	return &Segmenter{maxChars: maxChars, overlap: overlap}
}

func (s *Segmenter) MaxChars() int { return s.maxChars }
func (s *Segmenter) Overlap() int  { return s.overlap }

// Segments 返回片段序列。序列是惰性的，每次遍历都会从头重新切分，
// 调用方传入的 entries 不会被修改。
func (s *Segmenter) Segments(entries []Entry) iter.Seq[Segment] {
	return func(yield func(Segment) bool) {
		var (
			cur  builder
			tail string
		)
		for _, line := range Sentences(entries) {
			size := lineSize(line)
			switch {
			case cur.empty():
				cur.add(line, size)
			case cur.sizeWith(line, size) > s.maxChars:
				if !yield(cur.segment()) {
					return
				}
				last := cur.lines[len(cur.lines)-1]
				cur = builder{}
				s.seed(&cur, tail, last, line, size)
			default:
				cur.add(line, size)
			}
			if s.overlap > 0 {
				tail += line.Text + "\n"
				if len(tail) > 8*s.overlap {
					tail = lastRunes(tail, s.overlap)
				}
			}
		}
		if !cur.empty() {
			yield(cur.segment())
		}
	}
}

// Split 一次性返回全部片段
func (s *Segmenter) Split(entries []Entry) []Segment {
	return slices.Collect(s.Segments(entries))
}

// seed 用上一片段末尾的上下文开启新片段，再追加当前句子。
// 上下文过长时从头部截短，句子本身超限时不再携带上下文。
func (s *Segmenter) seed(b *builder, tail string, last Line, line Line, size int) {
	text := strings.TrimSpace(lastRunes(tail, s.overlap))
	if text == "" || single(line, size) > s.maxChars {
		b.add(line, size)
		return
	}

	fits := func(text string) (Line, int, bool) {
		ov := Line{StartTime: last.StartTime, EndTime: last.EndTime, Text: text, Overlap: true}
		ovSize := lineSize(ov)
		probe := builder{}
		probe.add(ov, ovSize)
		return ov, ovSize, probe.sizeWith(line, size) <= s.maxChars
	}

	ov, ovSize, ok := fits(text)
	if !ok {
		runes := []rune(text)
		lo, hi := 0, len(runes)
		for lo < hi {
			mid := (lo + hi + 1) / 2
			if _, _, ok := fits(string(runes[len(runes)-mid:])); ok {
				lo = mid
			} else {
				hi = mid - 1
			}
		}
		text = strings.TrimSpace(string(runes[len(runes)-lo:]))
		if text == "" {
			b.add(line, size)
			return
		}
		ov, ovSize, _ = fits(text)
	}
	b.add(ov, ovSize)
	b.add(line, size)
}

// Sentences 按开始时间排序后，将字幕展开为逐句的行，空句被丢弃
func Sentences(entries []Entry) []Line {
	sorted := slices.Clone(entries)
	slices.SortStableFunc(sorted, func(a, b Entry) int {
		return cmp.Compare(a.StartTime, b.StartTime)
	})

	lines := make([]Line, 0, len(sorted))
	for _, entry := range sorted {
		for _, fragment := range entry.Content {
			for _, sentence := range strings.Split(fragment.Text, "\n") {
				sentence = strings.TrimSpace(sentence)
				if sentence == "" {
					continue
				}
				lines = append(lines, Line{
					StartTime: entry.StartTime,
					EndTime:   entry.EndTime,
					Text:      sentence,
				})
			}
		}
	}
	return lines
}

// Size 返回片段序列化后的字节数
func Size(seg Segment) int {
	data, _ := json.Marshal(seg)
	return len(data)
}

type builder struct {
	lines    []Line
	bodySize int
	endTime  int
}

func (b *builder) empty() bool { return len(b.lines) == 0 }

func (b *builder) add(line Line, size int) {
	if len(b.lines) > 0 {
		b.bodySize++
	}
	if len(b.lines) == 0 || line.EndTime > b.endTime {
		b.endTime = line.EndTime
	}
	b.lines = append(b.lines, line)
	b.bodySize += size
}

// sizeWith 计算追加 line 之后片段的序列化大小
func (b *builder) sizeWith(line Line, size int) int {
	if b.empty() {
		return single(line, size)
	}
	end := b.endTime
	if line.EndTime > end {
		end = line.EndTime
	}
	return envelope(b.lines[0].StartTime, end) + b.bodySize + 1 + size
}

func (b *builder) segment() Segment {
	return Segment{
		StartTime: b.lines[0].StartTime,
		EndTime:   b.endTime,
		Lines:     b.lines,
	}
}

func single(line Line, size int) int {
	return envelope(line.StartTime, line.EndTime) + size
}

func envelope(start, end int) int {
	return headStartTime + len(strconv.Itoa(start)) + headEndTime + len(strconv.Itoa(end)) + headLines + tailClose
}

func lineSize(line Line) int {
	data, _ := json.Marshal(line)
	return len(data)
}

// lastRunes 返回 s 末尾最多 n 个字符
func lastRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	i := len(s)
	for count := 0; count < n && i > 0; count++ {
		_, width := utf8.DecodeLastRuneInString(s[:i])
		i -= width
	}
	return s[i:]
}
