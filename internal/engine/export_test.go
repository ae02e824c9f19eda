package engine

var ChallengesCompletedMetric = challengesCompleted
