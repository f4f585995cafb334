package transcript

// Fragment 字幕条目中的一段文本
type Fragment struct {
	Text string `json:"text"`
}

// Entry 一条带时间戳的字幕，时间单位为毫秒
type Entry struct {
	StartTime int        `json:"startTime"`
	EndTime   int        `json:"endTime"`
	Content   []Fragment `json:"content"`
}

// Line 一个句子，携带其来源字幕条目的时间范围
type Line struct {
	StartTime int    `json:"startTime"`
	EndTime   int    `json:"endTime"`
	Text      string `json:"text"`

	// Overlap 表示该行是从上一个片段带过来的上下文
	Overlap bool `json:"-"`
}

// Segment 送去分析的一个片段
type Segment struct {
	StartTime int    `json:"startTime"`
	EndTime   int    `json:"endTime"`
	Lines     []Line `json:"lines"`
}

// Text 将片段内的句子按行拼接
func (s Segment) Text() string {
	n := 0
	for _, l := range s.Lines {
		n += len(l.Text) + 1
	}
	buf := make([]byte, 0, n)
	for i, l := range s.Lines {
		if i > 0 {
			buf = append(buf, '\n')
		}
		buf = append(buf, l.Text...)
	}
	return string(buf)
}
