package services

import (
	"math"
	"time"

	model "github.com/Itish41/virtualbackroom/models"
)

const completedWindow = 30 * 24 * time.Hour

// CalculateMetrics summarizes workflows as of now. Empty input yields zeros.
func CalculateMetrics(workflows []model.CAPAWorkflow, now time.Time) model.CAPAMetrics {
	m := model.CAPAMetrics{
		TotalCAPAs:  len(workflows),
		ByPriority:  map[string]int{},
		ByStatus:    map[string]int{},
		ByFramework: map[string]int{},
	}

	var (
		withCompletion int
		confirmed      int
		totalDays      float64
	)
	for _, wf := range workflows {
		m.ByPriority[string(wf.Priority)]++
		m.ByStatus[string(wf.Status)]++
		framework := wf.Framework
		if framework == "" {
			framework = "General"
		}
		m.ByFramework[framework]++

		if wf.Status.IsOpen() {
			m.OpenCAPAs++
			if wf.DueDate.Before(now) {
				m.OverdueCAPAs++
			}
		}

		if wf.CompletedDate == nil {
			continue
		}
		completed := *wf.CompletedDate
		if wf.Status == model.CAPAStatusCompleted && !completed.After(now) && now.Sub(completed) <= completedWindow {
			m.CompletedThisMonth++
		}
		withCompletion++
		totalDays += completed.Sub(wf.CreatedAt).Hours() / 24
		if wf.VerificationPlan.EffectivenessConfirmed {
			confirmed++
		}
	}

	if withCompletion > 0 {
		m.AverageCompletionTime = round1(totalDays / float64(withCompletion))
		m.EffectivenessRate = round1(float64(confirmed) / float64(withCompletion) * 100)
	}
	return m
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
