package fetch

import (
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
)

// minProfiles is the required pool size; the generators below are sized to
// always clear it.
const minProfiles = 100

// Profile is one rotating request header combination.
type Profile struct {
	UserAgent       string
	RefererTemplate string
	AcceptLanguage  string
	Accept          string
}

// Headers renders the profile for a target URL, expanding the referer
// template from the URL parts.
func (p Profile) Headers(rawURL string) http.Header {
	h := http.Header{}
	h.Set("User-Agent", p.UserAgent)
	h.Set("Accept-Language", p.AcceptLanguage)
	h.Set("Accept", p.Accept)

	parts, err := url.Parse(rawURL)
	if err == nil {
		path := parts.Path
		if path == "" {
			path = "/"
		}
		referer := strings.NewReplacer(
			"{scheme}", parts.Scheme,
			"{netloc}", parts.Host,
			"{hostname}", parts.Hostname(),
			"{url}", rawURL,
			"{path}", path,
		).Replace(p.RefererTemplate)
		if referer != "" {
			h.Set("Referer", referer)
		}
	}
	return h
}

// ProfilePool hands out random profiles from a fixed generated set.
type ProfilePool struct {
	mu       sync.Mutex
	profiles []Profile
	rng      *rand.Rand
}

// NewProfilePool builds the deterministic profile set seeded with an
// arbitrary source for pick order.
func NewProfilePool(seed int64) *ProfilePool {
	return &ProfilePool{
		profiles: buildProfiles(),
		rng:      rand.New(rand.NewSource(seed)),
	}
}

// Pick returns a random profile.
func (p *ProfilePool) Pick() Profile {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.profiles[p.rng.Intn(len(p.profiles))]
}

// Size reports the pool size.
func (p *ProfilePool) Size() int {
	return len(p.profiles)
}

var refererTemplates = []string{
	"{scheme}://{netloc}/",
	"{scheme}://{netloc}{path}",
	"https://www.google.com/search?q={netloc}",
	"https://www.google.com.hk/search?q={netloc}",
	"https://www.baidu.com/s?wd={netloc}",
	"https://cn.bing.com/search?q={netloc}",
	"https://search.yahoo.com/search?p={netloc}",
	"https://duckduckgo.com/?q={netloc}",
	"https://www.sogou.com/web?query={netloc}",
	"https://m.baidu.com/s?wd={netloc}",
	"https://www.so.com/s?q={netloc}",
	"https://www.ecosia.org/search?q={netloc}",
	"https://yandex.com/search/?text={netloc}",
	"https://www.zhihu.com/search?type=content&q={netloc}",
	"https://weixin.sogou.com/weixin?type=2&query={netloc}",
	"https://www.qwant.com/?q={netloc}",
}

var acceptLanguages = []string{
	"zh-CN,zh;q=0.9,en;q=0.7",
	"zh-CN,zh;q=0.8,en-US;q=0.6",
	"en-US,en;q=0.9,zh-CN;q=0.6",
	"zh-TW,zh;q=0.8,en;q=0.5",
	"en-GB,en;q=0.9,zh-CN;q=0.4",
	"ja-JP,ja;q=0.9,en-US;q=0.6",
	"ko-KR,ko;q=0.9,en-US;q=0.6",
	"de-DE,de;q=0.9,en-US;q=0.6",
	"fr-FR,fr;q=0.9,en;q=0.6",
	"es-ES,es;q=0.9,en;q=0.5",
}

var acceptHeaders = []string{
	"text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,image/apng,*/*;q=0.8",
	"text/html,application/json;q=0.9,*/*;q=0.8",
	"text/html,application/xhtml+xml;q=0.9,*/*;q=0.7",
	"text/html,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
}

var (
	windowsVersions  = []string{"10.0", "11.0", "6.3", "6.1"}
	macOSVersions    = []string{"10_15_7", "11_6_8", "12_6_7", "13_5_2", "14_0"}
	firefoxPlatforms = []string{
		"Windows NT 10.0; Win64; x64",
		"Windows NT 6.1; Win64; x64",
		"Macintosh; Intel Mac OS X 10.15",
		"X11; Ubuntu; Linux x86_64",
	}
	androidVersions = []string{"10", "11", "12", "13", "14"}
	androidDevices  = []string{"Pixel 5", "Pixel 7", "Mi 11", "Mate 40", "SM-G998B", "OnePlus 9"}
	iosVersions     = []string{"14_7", "15_6", "16_5", "17_3"}
)

func buildProfiles() []Profile {
	agents := userAgents()
	profiles := make([]Profile, 0, len(agents))
	for i, ua := range agents {
		profiles = append(profiles, Profile{
			UserAgent:       ua,
			RefererTemplate: refererTemplates[i%len(refererTemplates)],
			AcceptLanguage:  acceptLanguages[i%len(acceptLanguages)],
			Accept:          acceptHeaders[i%len(acceptHeaders)],
		})
	}
	if len(profiles) < minProfiles {
		panic(fmt.Sprintf("profile pool too small: %d", len(profiles)))
	}
	return profiles
}

func userAgents() []string {
	var agents []string
	for i, v := 0, 114; v < 144; i, v = i+1, v+1 {
		agents = append(agents, fmt.Sprintf(
			"Mozilla/5.0 (Windows NT %s; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%d.0.0.0 Safari/537.36",
			windowsVersions[i%len(windowsVersions)], v))
	}
	for i, v := 0, 96; v < 116; i, v = i+1, v+1 {
		agents = append(agents, fmt.Sprintf(
			"Mozilla/5.0 (Macintosh; Intel Mac OS X %s) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%d.0.0.0 Safari/537.36",
			macOSVersions[i%len(macOSVersions)], v))
	}
	for i, v := 0, 88; v < 108; i, v = i+1, v+1 {
		agents = append(agents, fmt.Sprintf(
			"Mozilla/5.0 (%s; rv:%d.0) Gecko/20100101 Firefox/%d.0",
			firefoxPlatforms[i%len(firefoxPlatforms)], v, v))
	}
	for i, v := 0, 100; v < 118; i, v = i+1, v+1 {
		agents = append(agents, fmt.Sprintf(
			"Mozilla/5.0 (Windows NT %s; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%d.0.0.0 Safari/537.36 Edg/%d.0.0.0",
			windowsVersions[i%2], v, v))
	}
	for i, v := 0, 14; v < 27; i, v = i+1, v+1 {
		agents = append(agents, fmt.Sprintf(
			"Mozilla/5.0 (Macintosh; Intel Mac OS X %s) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/%d.0 Safari/605.1.15",
			macOSVersions[i%len(macOSVersions)], v))
	}
	for i, v := 0, 14; v < 26; i, v = i+1, v+1 {
		agents = append(agents, fmt.Sprintf(
			"Mozilla/5.0 (iPhone; CPU iPhone OS %s like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/%d.0 Mobile/15E148 Safari/604.1",
			iosVersions[i%len(iosVersions)], v))
	}
	for i, v := 0, 96; v < 122; i, v = i+1, v+1 {
		agents = append(agents, fmt.Sprintf(
			"Mozilla/5.0 (Linux; Android %s; %s) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%d.0.0.0 Mobile Safari/537.36",
			androidVersions[i%len(androidVersions)], androidDevices[i%len(androidDevices)], v))
	}
	return agents
}
