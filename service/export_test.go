package service

var GenerationObjectName = generationObjectName
