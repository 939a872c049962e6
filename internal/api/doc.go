// Package api implements the HTTP surface: conversion submission,
// status probes, one-shot result retrieval, the task listing and the
// signed-path mirror drop endpoint.
package api
