package license

import "time"

func SetValidatorClock(v *Validator, fn func() time.Time) { v.nowFn = fn }

func SetManagerClock(m *Manager, fn func() time.Time) { m.nowFn = fn }

func SetAdminKeyGenerator(a *Admin, fn func() (string, error)) { a.generateKey = fn }
