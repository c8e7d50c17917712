// Package scoring turns a finished session into success, focus and point values.
//
// Callers must only score tasks with a positive planned duration, and
// question-solving tasks must have a positive question count. Those checks
// belong to task creation; the functions here do not repeat them.
package scoring

import (
	"math"

	"edu-tracker/internal/model"
)

const (
	maxScore = 100.0

	distractionWeight = 50.0
	overtimeWeight    = 50.0

	earlyBonusRate  = 0.1
	latePenaltyRate = 0.2
	bonusThreshold  = 90.0
	bonusMultiplier = 1.2
)

// Result holds the derived values for one completion.
type Result struct {
	SuccessScore     float64
	FocusScore       float64
	PointsAwarded    int
	CorrectAnswers   int
	IncorrectAnswers int
}

// RoundedSuccess is the stored form of SuccessScore.
func (r Result) RoundedSuccess() int {
	return int(math.Round(r.SuccessScore))
}

// RoundedFocus is the stored form of FocusScore.
func (r Result) RoundedFocus() int {
	return int(math.Round(r.FocusScore))
}

// Score computes all derived values for task finished with c.
func Score(task model.Task, c model.Completion) Result {
	correct, incorrect := answers(task, c)
	focus := Focus(task.PlannedDuration, c)
	success := focus
	if task.Type == model.TaskTypeQuestions && task.QuestionCount > 0 {
		success = Success(task.PlannedDuration, task.QuestionCount, correct, c.ActualDuration)
	}
	return Result{
		SuccessScore:     success,
		FocusScore:       focus,
		PointsAwarded:    Points(task.PlannedDuration, success, focus, c.PagesRead),
		CorrectAnswers:   correct,
		IncorrectAnswers: incorrect,
	}
}

// Focus penalizes breaks, pauses and running over the planned time.
func Focus(plannedMinutes int, c model.Completion) float64 {
	total := c.ActualDuration + c.BreakTime + c.PauseTime
	if total == 0 {
		return maxScore
	}
	planned := float64(plannedMinutes * 60)
	score := maxScore
	score -= float64(c.BreakTime+c.PauseTime) / float64(total) * distractionWeight
	if actual := float64(c.ActualDuration); actual > planned {
		score -= (actual - planned) / planned * overtimeWeight
	}
	return clamp(score)
}

// Success is answer accuracy scaled by how close to plan the work finished.
// Finishing early earns up to 10% extra, running late costs 20% per
// planned duration of overtime.
func Success(plannedMinutes, questionCount, correct, actualSeconds int) float64 {
	base := float64(correct) / float64(questionCount) * maxScore
	ratio := float64(actualSeconds) / float64(plannedMinutes*60)
	modifier := 1 - (ratio-1)*latePenaltyRate
	if ratio < 1 {
		modifier = 1 + (1-ratio)*earlyBonusRate
	}
	return clamp(base * modifier)
}

// Points starts from the planned minutes. Each score above the bonus
// threshold multiplies the total by 1.2, so both together give 1.44.
func Points(plannedMinutes int, success, focus float64, pagesRead *int) int {
	points := float64(plannedMinutes)
	if success > bonusThreshold {
		points *= bonusMultiplier
	}
	if focus > bonusThreshold {
		points *= bonusMultiplier
	}
	if pagesRead != nil && *pagesRead > 0 {
		points += float64(*pagesRead)
	}
	return int(math.Round(points))
}

// answers only counts correctness for question-solving tasks that reported
// both correct and incorrect numbers.
func answers(task model.Task, c model.Completion) (int, int) {
	if task.Type != model.TaskTypeQuestions || c.CorrectCount == nil || c.IncorrectCount == nil {
		return 0, 0
	}
	return *c.CorrectCount, *c.IncorrectCount
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(maxScore, v))
}
