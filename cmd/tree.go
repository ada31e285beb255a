package main

import (
	"fmt"

	"github.com/disiqueira/gotree/v3"

	"kitchen-timelapse/internal/timelapse"
)

const timeLayout = "2006-01-02 15:04"

// archiveTree はアーカイブの走査結果をツリー表示用の文字列にする
func archiveTree(root string, d timelapse.DirStructure) string {
	tree := gotree.New(root)
	for _, m := range d.Movies {
		tree.Add(movieLabel(m))
	}
	if d.Today != nil {
		today := tree.Add(fmt.Sprintf("%s/ (当日 %s, %d件)", d.Today.Name(), d.Today.Time.Format(timeLayout), len(d.Today.Movies)))
		for _, m := range d.Today.Movies {
			today.Add(movieLabel(m))
		}
	}
	for _, name := range d.Skipped {
		tree.Add("? " + name)
	}
	return tree.Print()
}

func movieLabel(m timelapse.Movie) string {
	return fmt.Sprintf("%s (%s, %dB)", m.Filename, m.Time.Format(timeLayout), m.Size)
}
