package model

// Song is a playable track used for a game round. The preview URL points
// at a ~30 second audio clip.
type Song struct {
	Title      string `json:"song"`
	Artist     string `json:"artist"`
	PreviewURL string `json:"audio_url"`
}

// Complete reports whether the song carries everything a round needs.
func (s *Song) Complete() bool {
	return s != nil && s.Title != "" && s.Artist != "" && s.PreviewURL != ""
}
