// SPDX-License-Identifier: MPL-2.0

package pipeline

import "testing"

func TestResource_Satisfies(t *testing.T) {
	t.Parallel()

	tests := []struct {
		out, in   Resource
		satisfies bool
		touches   bool
	}{
		{PathResource("/srv/app/static"), PathResource("/srv/app/static/index.html"), true, true},
		{PathResource("/srv/app/static"), PathResource("/srv/app/static"), true, true},
		{PathResource("/srv/app/static/index.html"), PathResource("/srv/app/static"), false, true},
		{PathResource("/srv/app/static"), PathResource("/srv/app/server"), false, false},
		{PathResource("/srv/app/stat"), PathResource("/srv/app/static"), false, false},
		{PackageResource("apt", "libfoo-dev"), PackageResource("apt", "libfoo-dev"), true, true},
		{PackageResource("apt", "libfoo-dev"), PackageResource("apk", "libfoo-dev"), false, false},
		{IdentityResource("app"), PathResource("/home/app"), false, false},
	}
	for _, tt := range tests {
		if got := tt.out.Satisfies(tt.in); got != tt.satisfies {
			t.Errorf("%s.Satisfies(%s) = %v, want %v", tt.out, tt.in, got, tt.satisfies)
		}
		if got := tt.out.Touches(tt.in); got != tt.touches {
			t.Errorf("%s.Touches(%s) = %v, want %v", tt.out, tt.in, got, tt.touches)
		}
	}
}

func TestResource_KindAndKey(t *testing.T) {
	t.Parallel()

	r := PackageResource("pip", "bar")
	if r.Kind() != KindPackage || r.Key() != "pip:bar" {
		t.Errorf("Kind/Key = %q/%q", r.Kind(), r.Key())
	}
	if p := PathResource("srv//app/"); p != "path:/srv/app" {
		t.Errorf("PathResource() = %q", p)
	}
}
