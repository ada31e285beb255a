package timelapse

import "time"

// Clock は現在時刻の取得を抽象化する
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock は実時間のClockを返す
func SystemClock() Clock { return systemClock{} }

// sameHour は2つの時刻がローカル時刻で同じ日の同じ時台かを判定する
func sameHour(a, b time.Time) bool {
	return sameDay(a, b) && a.Local().Hour() == b.Local().Hour()
}

// sameDay は2つの時刻がローカル時刻で同じ日かを判定する
func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Local().Date()
	by, bm, bd := b.Local().Date()
	return ay == by && am == bm && ad == bd
}
