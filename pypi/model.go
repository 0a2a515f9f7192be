package pypi

type Package struct {
	Info Info `json:"info"`
}

type Info struct {
	Name         string   `json:"name"`
	Version      string   `json:"version"`
	Summary      string   `json:"summary"`
	License      string   `json:"license"`
	HomePage     string   `json:"home_page"`
	RequiresDist []string `json:"requires_dist"`
}
