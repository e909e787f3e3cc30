package security

import "testing"

func TestValidatePublicURL_Accepts(t *testing.T) {
	publicURLs := []string{
		"https://example.com/avatar.png",
		"http://cdn.example.org/u/1.jpg",
		"HTTPS://Example.com/a.png",
		"https://8.8.8.8/a.png",
	}

	for _, u := range publicURLs {
		t.Run(u, func(t *testing.T) {
			if err := ValidatePublicURL(u); err != nil {
				t.Errorf("ValidatePublicURL(%q) returned error: %v", u, err)
			}
		})
	}
}

func TestValidatePublicURL_Rejects(t *testing.T) {
	tests := []struct {
		name string
		url  string
	}{
		{"空文字", ""},
		{"javascriptスキーム", "javascript:alert(1)"},
		{"dataスキーム", "data:image/png;base64,AAAA"},
		{"ftpスキーム", "ftp://example.com/a.png"},
		{"ホストなし", "https://"},
		{"プライベートIP 10系", "http://10.0.0.1/a.png"},
		{"プライベートIP 172系", "http://172.16.0.1/a.png"},
		{"プライベートIP 192系", "http://192.168.1.100/a.png"},
		{"ループバック", "http://127.0.0.1/a.png"},
		{"localhost", "http://localhost:8080/a.png"},
		{"localhostのサブドメイン", "http://app.localhost/a.png"},
		{"メタデータIP", "http://169.254.169.254/latest/meta-data/"},
		{"IPv6ループバック", "http://[::1]/a.png"},
		{"IPv6ユニークローカル", "http://[fd00::1]/a.png"},
		{"ゼロアドレス", "http://0.0.0.0/a.png"},
		{"不正なURL", "http://[::1/a.png"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidatePublicURL(tt.url); err == nil {
				t.Errorf("ValidatePublicURL(%q) should return error", tt.url)
			}
		})
	}
}
