package useragent

import ua "github.com/mileusna/useragent"

// Client is the decomposed user-agent string attached to a visit record.
type Client struct {
	Browser string
	OS      string
	Device  string
}

// Parse decomposes a raw user-agent header. It never fails; unknown or empty
// input yields empty fields.
func Parse(raw string) Client {
	if raw == "" {
		return Client{}
	}

	parsed := ua.Parse(raw)

	client := Client{
		Browser: parsed.Name,
		OS:      parsed.OS,
	}

	switch {
	case parsed.Mobile:
		client.Device = "mobile"
	case parsed.Tablet:
		client.Device = "tablet"
	case parsed.Bot:
		client.Device = "bot"
	case parsed.Desktop:
		client.Device = "desktop"
	}

	return client
}
