package lexibase

import (
	"context"
	"time"
)

// SampleData returns the starter lessons and words shown to a new user
func SampleData(now time.Time) ([]Lesson, []Word) {
	lessons := []Lesson{
		{ID: "lesson-1", Name: "Gia đình và bạn bè", Description: "Các từ vựng về gia đình và mối quan hệ", Color: "blue", CreatedDate: now},
		{ID: "lesson-2", Name: "Công việc và nghề nghiệp", Description: "Từ vựng liên quan đến công việc", Color: "green", CreatedDate: now},
		{ID: "lesson-3", Name: "Thực phẩm và đồ uống", Description: "Các từ về đồ ăn và thức uống", Color: "orange", CreatedDate: now},
	}
	words := []Word{
		{ID: NewWordID(), English: "family", Vietnamese: "gia đình", Example: "I love my family.", Category: CategoryNoun, LessonID: "lesson-1", AddedDate: now},
		{ID: NewWordID(), English: "teacher", Vietnamese: "giáo viên", Example: "My teacher is very kind.", Category: CategoryNoun, LessonID: "lesson-2", AddedDate: now},
		{ID: NewWordID(), English: "apple", Vietnamese: "quả táo", Example: "I eat an apple every day.", Category: CategoryNoun, LessonID: "lesson-3", AddedDate: now},
	}
	return lessons, words
}

// SeedSampleData loads the sample lessons and words when no lesson exists.
// It reports whether anything was written.
func (s *Store) SeedSampleData(ctx context.Context) (bool, error) {
	lessons, err := s.Lessons(ctx)
	if err != nil {
		return false, err
	}
	if len(lessons) > 0 {
		return false, nil
	}

	sampleLessons, sampleWords := SampleData(s.now().UTC())
	for _, l := range sampleLessons {
		if err := s.UpdateLesson(ctx, l); err != nil {
			return false, err
		}
	}
	for _, w := range sampleWords {
		if err := s.UpdateWord(ctx, w); err != nil {
			return false, err
		}
	}
	if err := s.SaveSetting(ctx, SettingCurrentLessonID, sampleLessons[0].ID); err != nil {
		return false, err
	}
	s.logger.Info("sample data loaded", "lessons", len(sampleLessons), "words", len(sampleWords))
	return true, nil
}
