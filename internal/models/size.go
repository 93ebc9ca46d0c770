package models

// SizePreset is a named pixel size used by an ad platform
type SizePreset struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Platform string `json:"platform"`
}

// SizePresets is the built-in size catalogue
var SizePresets = []SizePreset{
	{ID: "instagram-square", Name: "Instagram Square", Width: 1080, Height: 1080, Platform: "instagram"},
	{ID: "instagram-portrait", Name: "Instagram Portrait", Width: 1080, Height: 1350, Platform: "instagram"},
	{ID: "instagram-story", Name: "Instagram Story", Width: 1080, Height: 1920, Platform: "instagram"},
	{ID: "facebook-feed", Name: "Facebook Feed", Width: 1200, Height: 628, Platform: "facebook"},
	{ID: "facebook-story", Name: "Facebook Story", Width: 1080, Height: 1920, Platform: "facebook"},
	{ID: "x-post", Name: "X Post", Width: 1600, Height: 900, Platform: "x"},
	{ID: "linkedin-feed", Name: "LinkedIn Feed", Width: 1200, Height: 627, Platform: "linkedin"},
	{ID: "pinterest-pin", Name: "Pinterest Pin", Width: 1000, Height: 1500, Platform: "pinterest"},
	{ID: "display-medium-rectangle", Name: "Medium Rectangle", Width: 300, Height: 250, Platform: "display"},
	{ID: "display-leaderboard", Name: "Leaderboard", Width: 728, Height: 90, Platform: "display"},
	{ID: "display-skyscraper", Name: "Wide Skyscraper", Width: 160, Height: 600, Platform: "display"},
	{ID: "display-mobile-banner", Name: "Mobile Banner", Width: 320, Height: 50, Platform: "display"},
}

// FindSizePreset returns the preset with the given ID
func FindSizePreset(id string) (SizePreset, bool) {
	for _, p := range SizePresets {
		if p.ID == id {
			return p, true
		}
	}
	return SizePreset{}, false
}
