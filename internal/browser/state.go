package browser

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
)

// storageState is the persisted authentication format written by the
// browser login helper: a list of cookies plus per-origin storage, of which
// only the cookies are replayed.
type storageState struct {
	Cookies []stateCookie `json:"cookies"`
}

type stateCookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite"`
}

// LoadStorageState reads the cookies of a storage state file. An empty path
// yields no cookies.
func LoadStorageState(path string) ([]*network.CookieParam, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path) // #nosec G304 -- operator supplied path
	if err != nil {
		return nil, fmt.Errorf("read storage state: %w", err)
	}
	return parseStorageState(raw)
}

func parseStorageState(raw []byte) ([]*network.CookieParam, error) {
	var state storageState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("decode storage state: %w", err)
	}
	cookies := make([]*network.CookieParam, 0, len(state.Cookies))
	for _, c := range state.Cookies {
		if c.Name == "" || c.Domain == "" {
			continue
		}
		param := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		}
		if param.Path == "" {
			param.Path = "/"
		}
		switch c.SameSite {
		case "Strict", "Lax", "None":
			param.SameSite = network.CookieSameSite(c.SameSite)
		}
		// Session cookies carry -1.
		if c.Expires > 0 {
			sec, frac := math.Modf(c.Expires)
			expires := cdp.TimeSinceEpoch(time.Unix(int64(sec), int64(frac*1e9)))
			param.Expires = &expires
		}
		cookies = append(cookies, param)
	}
	return cookies, nil
}
