package store

import "erp-session-core/internal/model"

const DemoPassword = "training-center"

func strPtr(s string) *string { return &s }

var demoRoles = map[string]model.Role{
	"admin":      {ID: "r-admin", Name: "admin", DisplayName: "Administrator", Priority: 100, Color: strPtr("#C0392B"), Icon: strPtr("shield")},
	"accountant": {ID: "r-accountant", Name: "accountant", DisplayName: "Accountant", Priority: 50, Color: strPtr("#2980B9")},
	"instructor": {ID: "r-instructor", Name: "instructor", DisplayName: "Instructor", Priority: 30, Icon: strPtr("chalkboard")},
}

// SeedDemo adds the demo staff accounts, all sharing DemoPassword.
func SeedDemo(s *Store, nowMillis int64) error {
	staff := []struct {
		email string
		name  string
		roles []string
	}{
		{"admin@erp-training.app", "Nour Hassan", []string{"admin", "accountant"}},
		{"accounts@erp-training.app", "Karim Adel", []string{"accountant"}},
		{"instructor@erp-training.app", "Salma Farouk", []string{"instructor"}},
	}
	for _, st := range staff {
		profile := model.UserProfile{Name: st.name}
		for _, r := range st.roles {
			profile.Roles = append(profile.Roles, demoRoles[r])
		}
		profile.PrimaryRole = profile.Roles[0]
		if _, err := s.AddAccount(st.email, DemoPassword, profile, nowMillis); err != nil {
			return err
		}
	}
	return nil
}
