package natsadapter

var Classify = classify
