package output

import (
	"testing"
)

func TestMaskSecrets(t *testing.T) {
	tests := []struct {
		name       string
		obj        map[string]any
		wantMasked bool
	}{
		{
			name:       "nil object",
			obj:        nil,
			wantMasked: false,
		},
		{
			name: "non-secret resource",
			obj: map[string]any{
				"kind":     "Pod",
				"metadata": map[string]any{"name": "test-pod"},
			},
			wantMasked: false,
		},
		{
			name: "secret with data",
			obj: map[string]any{
				"kind":     "Secret",
				"metadata": map[string]any{"name": "test-secret"},
				"data": map[string]any{
					"username": "dXNlcm5hbWU=",
					"password": "cGFzc3dvcmQ=",
				},
				"type": "Opaque",
			},
			wantMasked: true,
		},
		{
			name: "secret with stringData",
			obj: map[string]any{
				"kind":       "Secret",
				"stringData": map[string]any{"config": "sensitive-config-data"},
			},
			wantMasked: true,
		},
		{
			name: "secret - lowercase kind",
			obj: map[string]any{
				"kind": "secret",
				"data": map[string]any{"key": "value"},
			},
			wantMasked: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := MaskSecrets(tt.obj)

			if tt.obj == nil {
				if result != nil {
					t.Error("Expected nil result for nil input")
				}
				return
			}

			for _, field := range []string{"data", "stringData"} {
				data, ok := result[field].(map[string]any)
				if !ok {
					continue
				}
				for key, value := range data {
					masked := value == RedactedValue
					if masked != tt.wantMasked {
						t.Errorf("%s[%q] masked = %v, want %v", field, key, masked, tt.wantMasked)
					}
				}
			}
		})
	}
}

func TestMaskSecrets_DoesNotModifyOriginal(t *testing.T) {
	original := map[string]any{
		"kind": "Secret",
		"data": map[string]any{"password": "cGFzc3dvcmQ="},
	}

	masked := MaskSecrets(original)

	if original["data"].(map[string]any)["password"] != "cGFzc3dvcmQ=" {
		t.Error("Original secret was modified")
	}
	if masked["data"].(map[string]any)["password"] != RedactedValue {
		t.Error("Masked secret still holds the password")
	}
}

func TestMaskSecrets_SensitiveAnnotations(t *testing.T) {
	obj := map[string]any{
		"kind": "Secret",
		"metadata": map[string]any{
			"annotations": map[string]any{
				"kubernetes.io/service-account.uid": "1234",
				"team":                              "platform",
			},
		},
	}

	annotations := MaskSecrets(obj)["metadata"].(map[string]any)["annotations"].(map[string]any)

	if annotations["kubernetes.io/service-account.uid"] != RedactedValue {
		t.Error("Expected service account uid to be redacted")
	}
	if annotations["team"] != "platform" {
		t.Error("Unrelated annotation should be kept")
	}
}
