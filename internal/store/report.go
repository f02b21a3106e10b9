package store

import "time"

// reportBuilder assembles a Report from rows read in separate queries.
type reportBuilder struct {
	users   []User
	index   map[string]int
	uploads []Upload
}

func newReportBuilder() *reportBuilder {
	return &reportBuilder{index: make(map[string]int)}
}

func (b *reportBuilder) addUser(name string, registeredAt time.Time, online bool) {
	b.index[name] = len(b.users)
	b.users = append(b.users, User{Username: name, RegisteredAt: registeredAt, Online: online})
}

// addSession drops sessions whose user was not added.
func (b *reportBuilder) addSession(name string, s Session) {
	i, ok := b.index[name]
	if !ok {
		return
	}
	b.users[i].Sessions = append(b.users[i].Sessions, s)
}

func (b *reportBuilder) addUpload(u Upload) {
	b.uploads = append(b.uploads, u)
}

func (b *reportBuilder) report() *Report {
	return &Report{Users: b.users, Uploads: b.uploads}
}
