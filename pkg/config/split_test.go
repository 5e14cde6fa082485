package config

import (
	"reflect"
	"testing"
)

func TestSplitQuotedFields(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		quote rune
		want  []string
	}{
		{"trusted libraries", `libsgx_urts.so "lib sgx urts.so" libsgx_urts_sim.so`, '"', []string{"libsgx_urts.so", "lib sgx urts.so", "libsgx_urts_sim.so"}},
		{"search path with spaces", `"/opt/intel/sgx enclaves"`, '"', []string{"/opt/intel/sgx enclaves"}},
		{"quote inside a field", `/opt/"my enclaves"/lib`, '"', []string{"/opt/my enclaves/lib"}},
		{"escaped quote", `"enclave \"a\".so"`, '"', []string{`enclave "a".so`}},
		{"alias", `enclaves encl`, '"', []string{"enclaves", "encl"}},
		{"empty field before a space", `usage "" `, '"', []string{"usage", ""}},
		{"single quote", `'it\'s' here`, '\'', []string{"it's", "here"}},
		{"empty", ``, '"', []string{}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := SplitQuotedFields(tc.in, tc.quote)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("SplitQuotedFields(%q) = %#v, want %#v", tc.in, got, tc.want)
			}
		})
	}
}
