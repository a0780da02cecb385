package rbac

import "testing"

func TestAtLeast(t *testing.T) {
	cases := []struct {
		name     string
		role     Role
		required Role
		want     bool
	}{
		{name: "viewer read", role: RoleViewer, required: RoleViewer, want: true},
		{name: "viewer write", role: RoleViewer, required: RoleEditor, want: false},
		{name: "viewer comment", role: RoleViewer, required: RoleCommenter, want: false},
		{name: "commenter comment", role: RoleCommenter, required: RoleCommenter, want: true},
		{name: "commenter write", role: RoleCommenter, required: RoleEditor, want: false},
		{name: "editor read", role: RoleEditor, required: RoleViewer, want: true},
		{name: "editor write", role: RoleEditor, required: RoleEditor, want: true},
		{name: "unknown role", role: Role("owner"), required: RoleViewer, want: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.role.AtLeast(tc.required); got != tc.want {
				t.Fatalf("%q.AtLeast(%q) = %v, want %v", tc.role, tc.required, got, tc.want)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	if got := Normalize("commenter"); got != RoleCommenter {
		t.Fatalf("Normalize(commenter) = %q", got)
	}
	if got := Normalize("superuser"); got != RoleViewer {
		t.Fatalf("Normalize(superuser) = %q, want viewer", got)
	}
}

func TestResolve(t *testing.T) {
	access := Access{
		OwnerID: "u-owner",
		Collaborators: []Grant{
			{UserID: "u-editor", Role: RoleEditor},
			{UserID: "u-viewer", Role: RoleViewer},
		},
	}

	cases := []struct {
		name     string
		access   Access
		userID   string
		wantRole Role
		wantOK   bool
	}{
		{name: "owner is editor", access: access, userID: "u-owner", wantRole: RoleEditor, wantOK: true},
		{name: "explicit collaborator", access: access, userID: "u-editor", wantRole: RoleEditor, wantOK: true},
		{name: "unlisted denied", access: access, userID: "u-stranger", wantOK: false},
		{name: "anonymous denied", access: access, userID: "", wantOK: false},
		{
			name: "public floor admits anonymous",
			access: Access{
				OwnerID: "u-owner",
				Public:  PublicPolicy{Enabled: true, Role: RoleViewer},
			},
			userID:   "",
			wantRole: RoleViewer,
			wantOK:   true,
		},
		{
			name: "public floor does not downgrade explicit editor",
			access: Access{
				OwnerID:       "u-owner",
				Collaborators: []Grant{{UserID: "u-editor", Role: RoleEditor}},
				Public:        PublicPolicy{Enabled: true, Role: RoleViewer},
			},
			userID:   "u-editor",
			wantRole: RoleEditor,
			wantOK:   true,
		},
		{
			name: "public editor upgrades unlisted joiner",
			access: Access{
				OwnerID: "u-owner",
				Public:  PublicPolicy{Enabled: true, Role: RoleEditor},
			},
			userID:   "u-stranger",
			wantRole: RoleEditor,
			wantOK:   true,
		},
		{
			name: "public policy upgrades weaker explicit grant",
			access: Access{
				OwnerID:       "u-owner",
				Collaborators: []Grant{{UserID: "u-viewer", Role: RoleViewer}},
				Public:        PublicPolicy{Enabled: true, Role: RoleCommenter},
			},
			userID:   "u-viewer",
			wantRole: RoleCommenter,
			wantOK:   true,
		},
		{
			name: "disabled public policy grants nothing",
			access: Access{
				OwnerID: "u-owner",
				Public:  PublicPolicy{Enabled: false, Role: RoleEditor},
			},
			userID: "u-stranger",
			wantOK: false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			role, ok := Resolve(tc.access, tc.userID)
			if ok != tc.wantOK {
				t.Fatalf("Resolve ok = %v, want %v", ok, tc.wantOK)
			}
			if ok && role != tc.wantRole {
				t.Fatalf("Resolve role = %q, want %q", role, tc.wantRole)
			}
		})
	}
}

func TestPermits(t *testing.T) {
	access := Access{
		OwnerID:       "u-owner",
		Collaborators: []Grant{{UserID: "u-commenter", Role: RoleCommenter}},
	}
	if !Permits(access, "u-commenter", RoleViewer) {
		t.Fatal("commenter should satisfy viewer tier")
	}
	if Permits(access, "u-commenter", RoleEditor) {
		t.Fatal("commenter should not satisfy editor tier")
	}
	if Permits(access, "u-nobody", RoleViewer) {
		t.Fatal("unlisted identity should be denied")
	}
}
