package llm

// Section 视频中的一个章节
type Section struct {
	Title         string `json:"title" description:"Short title of the section."`
	Summary       string `json:"summary" description:"Detailed summary of the section. Up to 4 sentences long."`
	StartSentence string `json:"start_sentence" description:"First sentence from the transcript that begins the section."`
	StartTime     int    `json:"start_time" description:"Start time of the section as provided by startTime in the input transcript."`
}

// Insight 一条要点
type Insight struct {
	Text      string `json:"text" description:"A short text describing the insight extracted from this segment. Up to 1 sentences long."`
	StartTime int    `json:"start_time" description:"Start time of the insight as provided by startTime in the input transcript."`
}

// Person 视频中出现的人物
type Person struct {
	Name string `json:"name" description:"The name of the person (or identifier 'Person1', 'Person2', etc., if names are not available)."`
}

// VideoSummary 单个片段或整个视频的分析结果，两者结构相同
type VideoSummary struct {
	EntryID       string    `json:"entry_id" description:"The ID of the video entry."`
	FullSummary   string    `json:"full_summary" description:"Comprehensive summary of the video. Up to 6 sentences long."`
	Sections      []Section `json:"sections" description:"List of sections identified in the video."`
	Insights      []Insight `json:"insights" description:"List of main insights discussed in the video."`
	People        []Person  `json:"people" description:"List of people identified in the video."`
	PrimaryTopics []string  `json:"primary_topics" description:"Primary topics discussed in the video, each described in up to 6 words."`
}

// CrossVideoInsights 多个视频之间的综合分析
type CrossVideoInsights struct {
	SharedInsights []string `json:"shared_insights" description:"Shared insights across all analyzed videos. Up to 4 sentences long per shared insight."`
	CommonThemes   []string `json:"common_themes" description:"Common themes across videos. Up to 1 sentence long per common theme."`
	OpposingViews  []string `json:"opposing_views" description:"Opposing views across videos. Up to 2 sentence long per opposing view."`
	Sentiments     []string `json:"sentiments" description:"Sentiments across the videos. Up to 1 sentence per sentiment."`
}

// FollowupQuestion 推荐的追问
type FollowupQuestion struct {
	Question string `json:"question" description:"A suggested question or task request based on the analyzed video transcripts."`
}

type FollowupQuestionsResponse struct {
	Questions []FollowupQuestion `json:"questions" description:"A list of suggested follow-up questions or tasks."`
}

// QAResponse 问答结果，answer 为 Markdown
type QAResponse struct {
	Answer string `json:"answer" description:"Markdown formatted reply to the user's request based on the provided videos context."`
}

// normalize 补全缺失的 entry_id，并按名字去重人物
func (s *VideoSummary) normalize(videoID string) {
	if s.EntryID == "" {
		s.EntryID = videoID
	}

	seen := make(map[string]bool, len(s.People))
	people := s.People[:0]
	for _, p := range s.People {
		if p.Name == "" || seen[p.Name] {
			continue
		}
		seen[p.Name] = true
		people = append(people, p)
	}
	s.People = people

	if s.People == nil {
		s.People = []Person{}
	}
	if s.Sections == nil {
		s.Sections = []Section{}
	}
	if s.Insights == nil {
		s.Insights = []Insight{}
	}
	if s.PrimaryTopics == nil {
		s.PrimaryTopics = []string{}
	}
}
