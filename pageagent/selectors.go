package pageagent

// Selectors names the page structure the agent reads and mutates. The
// defaults target a generic webmail layout; deployments override them per
// provider through configuration.
type Selectors struct {
	ListRow    string `yaml:"list_row" json:"list_row"`
	RowSender  string `yaml:"row_sender" json:"row_sender"`
	RowSubject string `yaml:"row_subject" json:"row_subject"`
	RowSnippet string `yaml:"row_snippet" json:"row_snippet"`
	RowDate    string `yaml:"row_date" json:"row_date"`
	RowUnread  string `yaml:"row_unread" json:"row_unread"` // class marking unread rows

	OpenSubject string `yaml:"open_subject" json:"open_subject"`
	OpenSender  string `yaml:"open_sender" json:"open_sender"`
	OpenBody    string `yaml:"open_body" json:"open_body"`

	SearchInput  string `yaml:"search_input" json:"search_input"`
	SearchSubmit string `yaml:"search_submit" json:"search_submit"`
	ReplyButton  string `yaml:"reply_button" json:"reply_button"`
	ReplyEditor  string `yaml:"reply_editor" json:"reply_editor"`
}

// DefaultSelectors returns the generic webmail selector table.
func DefaultSelectors() Selectors {
	return Selectors{
		ListRow:      "tr.mail-row",
		RowSender:    ".mail-sender",
		RowSubject:   ".mail-subject",
		RowSnippet:   ".mail-snippet",
		RowDate:      ".mail-date",
		RowUnread:    "unread",
		OpenSubject:  ".message-view .message-subject",
		OpenSender:   ".message-view .message-sender",
		OpenBody:     ".message-view .message-body",
		SearchInput:  "input[name=q]",
		SearchSubmit: "button[type=submit].search",
		ReplyButton:  ".message-view .reply-button",
		ReplyEditor:  ".compose-editor [contenteditable=true]",
	}
}
