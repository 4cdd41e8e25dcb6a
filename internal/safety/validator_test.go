package safety

import "testing"

func TestValidate_RejectsNonHTTPScheme(t *testing.T) {
	result := Validate("file:///etc/passwd", Config{})
	if result.Safe {
		t.Fatal("file:// scheme should be rejected")
	}
	if result.Category != CategoryProtocol {
		t.Errorf("Category = %v, want %v", result.Category, CategoryProtocol)
	}
}

func TestValidate_RejectsLoopback(t *testing.T) {
	tests := []string{
		"http://localhost/",
		"http://sub.localhost/",
		"http://127.0.0.1/",
		"http://127.5.5.5/",
	}
	for _, u := range tests {
		t.Run(u, func(t *testing.T) {
			if Validate(u, Config{}).Safe {
				t.Errorf("%s should be rejected", u)
			}
		})
	}
}

func TestValidate_RejectsPrivateRanges(t *testing.T) {
	tests := []string{
		"http://10.0.0.1/",
		"http://172.16.0.1/",
		"http://192.168.1.1/",
	}
	for _, u := range tests {
		t.Run(u, func(t *testing.T) {
			result := Validate(u, Config{})
			if result.Safe {
				t.Errorf("%s should be rejected", u)
			}
			if result.Category != CategoryPrivateIP {
				t.Errorf("Category = %v, want %v", result.Category, CategoryPrivateIP)
			}
		})
	}
}

func TestValidate_RejectsLinkLocal(t *testing.T) {
	result := Validate("http://169.254.1.1/", Config{})
	if result.Safe {
		t.Fatal("link-local address should be rejected")
	}
	if result.Category != CategoryLinkLocal {
		t.Errorf("Category = %v, want %v", result.Category, CategoryLinkLocal)
	}
}

func TestValidate_RejectsMetadataEndpoints(t *testing.T) {
	tests := []string{
		"http://169.254.169.254/latest/meta-data/",
		"http://metadata.google.internal/",
		"http://100.100.100.200/",
	}
	for _, u := range tests {
		t.Run(u, func(t *testing.T) {
			result := Validate(u, Config{AllowLinkLocal: true})
			if result.Safe {
				t.Errorf("%s should be rejected", u)
			}
		})
	}
}

func TestValidate_AllowsPublicHTTPS(t *testing.T) {
	result := Validate("https://example.com/product/42", Config{})
	if !result.Safe {
		t.Errorf("public https URL should be safe, got reason=%q category=%v", result.Reason, result.Category)
	}
}

func TestValidate_GuardsIndividuallyOptOutable(t *testing.T) {
	result := Validate("http://10.0.0.1/", Config{AllowPrivateIPs: true})
	if !result.Safe {
		t.Error("private IP should be allowed when AllowPrivateIPs is set")
	}

	result = Validate("http://localhost/", Config{AllowLocalhost: true})
	if !result.Safe {
		t.Error("localhost should be allowed when AllowLocalhost is set")
	}

	result = Validate("http://169.254.1.1/", Config{AllowLinkLocal: true})
	if !result.Safe {
		t.Error("link-local should be allowed when AllowLinkLocal is set")
	}

	result = Validate("http://169.254.169.254/", Config{AllowMetadataEndpoints: true, AllowLinkLocal: true})
	if !result.Safe {
		t.Error("metadata endpoint should be allowed when AllowMetadataEndpoints is set")
	}
}

func TestValidate_AllowedHostnamesOverridesBlock(t *testing.T) {
	cfg := Config{AllowedHostnames: map[string]struct{}{"localhost": {}}}
	result := Validate("http://localhost/", cfg)
	if !result.Safe {
		t.Error("explicitly allowed hostname should override the localhost block")
	}
}

func TestValidate_BlockedHostnames(t *testing.T) {
	cfg := Config{BlockedHostnames: map[string]struct{}{"evil.example.com": {}}}
	result := Validate("https://evil.example.com/", cfg)
	if result.Safe {
		t.Error("explicitly blocked hostname should be rejected")
	}
	if result.Category != CategoryBlockedHostname {
		t.Errorf("Category = %v, want %v", result.Category, CategoryBlockedHostname)
	}
}

func TestValidate_DisabledSkipsAllChecks(t *testing.T) {
	result := Validate("file:///etc/passwd", Config{Disabled: true})
	if !result.Safe {
		t.Error("Disabled config should bypass all checks")
	}
}

func TestValidate_RejectsUnparseableURL(t *testing.T) {
	result := Validate("http://[::1", Config{})
	if result.Safe {
		t.Error("unparseable URL should be rejected")
	}
}
